// Package config loads pipeline configuration from the environment and,
// for native binaries, command-line flags.
package config

import (
	"flag"
	"fmt"
	"time"
	_ "time/tzdata" // browsers and slim containers ship no zoneinfo

	"github.com/caarlos0/env/v11"
)

// DefaultEndpoint is the compiled-in analytics endpoint. It is a placeholder
// and must be replaced by the deployment (env, flag or -ldflags -X).
var DefaultEndpoint = "https://script.google.com/macros/s/YOUR_ENHANCED_SCRIPT_ID/exec"

// Config holds the tunables of one pipeline instance.
type Config struct {
	Endpoint       string `env:"VISITOR_TELEMETRY_ENDPOINT"`
	IPLookupURL    string `env:"VISITOR_TELEMETRY_IP_LOOKUP_URL" envDefault:"https://ipapi.co/json/"`
	IPFallbackURL  string `env:"VISITOR_TELEMETRY_IP_FALLBACK_URL" envDefault:"https://api.ipify.org?format=json"`
	Domain         string `env:"VISITOR_TELEMETRY_DOMAIN" envDefault:"nexgenaitech.online"`
	RegionTimezone string `env:"VISITOR_TELEMETRY_REGION_TIMEZONE" envDefault:"Asia/Kolkata"`

	QueueCapacity int  `env:"VISITOR_TELEMETRY_QUEUE_CAPACITY" envDefault:"50"`
	MaxRetryCount int  `env:"VISITOR_TELEMETRY_MAX_RETRY_COUNT" envDefault:"5"`
	DrainAttempts uint `env:"VISITOR_TELEMETRY_DRAIN_ATTEMPTS" envDefault:"3"`

	ClickHistory     int           `env:"VISITOR_TELEMETRY_CLICK_HISTORY" envDefault:"100"`
	FlushInterval    time.Duration `env:"VISITOR_TELEMETRY_FLUSH_INTERVAL" envDefault:"30s"`
	PerformanceDelay time.Duration `env:"VISITOR_TELEMETRY_PERFORMANCE_DELAY" envDefault:"2s"`

	GeolocationTimeout     time.Duration `env:"VISITOR_TELEMETRY_GEO_TIMEOUT" envDefault:"5s"`
	GeolocationMaxAge      time.Duration `env:"VISITOR_TELEMETRY_GEO_MAX_AGE" envDefault:"60s"`
	GeolocationPromptGrace time.Duration `env:"VISITOR_TELEMETRY_GEO_PROMPT_GRACE" envDefault:"15s"`
	HTTPTimeout            time.Duration `env:"VISITOR_TELEMETRY_HTTP_TIMEOUT" envDefault:"10s"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the configuration with every field at its default,
// ignoring the environment.
func Defaults() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Endpoint = DefaultEndpoint
	return cfg
}

// Validate checks the values a pipeline cannot run without.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint required")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be > 0")
	}
	if c.ClickHistory <= 0 {
		return fmt.Errorf("click history must be > 0")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be > 0")
	}
	if _, err := time.LoadLocation(c.RegionTimezone); err != nil {
		return fmt.Errorf("region timezone: %w", err)
	}
	return nil
}

// RegisterFlags binds the flag-overridable fields to fs, using the current
// values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "Analytics endpoint URL")
	fs.StringVar(&c.IPLookupURL, "ip-lookup-url", c.IPLookupURL, "Primary IP/geo lookup service")
	fs.StringVar(&c.IPFallbackURL, "ip-fallback-url", c.IPFallbackURL, "Fallback IP lookup service")
	fs.StringVar(&c.Domain, "domain", c.Domain, "Site domain reported with each record")
	fs.IntVar(&c.QueueCapacity, "queue-capacity", c.QueueCapacity, "Maximum retry queue entries")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", c.HTTPTimeout, "Timeout for outbound HTTP requests")
}
