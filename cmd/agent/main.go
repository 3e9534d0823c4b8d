// Command agent runs one page view of the visitor telemetry pipeline from
// the command line, keeping visitor state in a local SQLite database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/config"
	"github.com/nathannam/visitor-telemetry/internal/delivery"
	"github.com/nathannam/visitor-telemetry/internal/httpclient"
	"github.com/nathannam/visitor-telemetry/internal/pipeline"
	"github.com/nathannam/visitor-telemetry/internal/platform/host"
	"github.com/nathannam/visitor-telemetry/internal/storage/sqlite"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

var version = "dev"

// Config is the agent configuration: the pipeline settings plus the page
// being reported.
type Config struct {
	config.Config

	DBPath   string
	URL      string
	Title    string
	Referrer string
	Dwell    time.Duration
}

// ParseConfig reads the environment, then overlays flags parsed from args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	base, err := config.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Config: base}
	cfg.RegisterFlags(fs)

	fs.StringVar(&cfg.DBPath, "db", "visitor-telemetry.db", "SQLite database holding visitor state")
	fs.StringVar(&cfg.URL, "url", "", "Page URL to report (default https://<domain>/)")
	fs.StringVar(&cfg.Title, "title", "", "Page title to report")
	fs.StringVar(&cfg.Referrer, "referrer", "", "Referrer to report; empty means a direct visit")
	fs.DurationVar(&cfg.Dwell, "dwell", 5*time.Second, "How long the page view stays open before unload")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.URL == "" {
		cfg.URL = "https://" + cfg.Domain + "/"
	}
	if u, err := url.Parse(cfg.URL); err != nil || u.Host == "" {
		return Config{}, fmt.Errorf("invalid -url %q", cfg.URL)
	}
	if cfg.DBPath == "" {
		return Config{}, errors.New("-db required")
	}
	if cfg.Dwell < 0 {
		return Config{}, errors.New("-dwell must be >= 0")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now()
	cfg, err := ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	cleanup := telemetry.SetupInstrumentation("visitor-telemetry-agent")
	defer cleanup()
	logger := telemetry.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := httpclient.New(cfg.HTTPTimeout)
	transport := delivery.NewHTTPTransport(client, cfg.HTTPTimeout)

	p := pipeline.New(cfg.Config, pipeline.Deps{
		Platform: host.New(host.Options{
			Version:   version,
			URL:       cfg.URL,
			Title:     cfg.Title,
			Referrer:  cfg.Referrer,
			StartedAt: startedAt,
		}),
		KV:        store,
		Transport: transport,
		Client:    client,
	})

	pv, _ := p.Start(ctx)

	timer := time.NewTimer(cfg.Dwell)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		logger.Info("Interrupted, unloading page view early")
	}

	// Unload and the pending sends must finish even after a signal.
	unloadCtx := context.WithoutCancel(ctx)
	p.Stop(unloadCtx)
	p.Wait()
	transport.Wait()

	logger.Info("Page view finished",
		"sessionId", pv.SessionID,
		"visitorId", pv.VisitorID,
		"visitCount", pv.VisitCount,
		"duration", pv.Elapsed(time.Now()))
	return nil
}
