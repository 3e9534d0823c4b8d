// Package host implements probe.Platform over the native operating system so
// the agent can run the same pipeline outside a browser.
package host

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/nathannam/visitor-telemetry/internal/probe"
)

// Options describe the page the agent reports on and where it reads the OS.
type Options struct {
	Version  string
	URL      string
	Title    string
	Referrer string

	// StartedAt is the moment the "page" started loading; Performance
	// measures from it.
	StartedAt time.Time

	// SysRoot is prepended to /sys and /etc paths. Empty means "/".
	SysRoot string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Platform reads facets from the running OS.
type Platform struct {
	opts Options
}

// New creates a host platform.
func New(opts Options) *Platform {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Platform{opts: opts}
}

func (p *Platform) Navigator() probe.Navigator {
	tag := p.locale()
	languages := []string{tag.String()}
	if base, conf := tag.Base(); conf != language.No && base.String() != tag.String() {
		languages = append(languages, base.String())
	}

	now := time.Now()
	_, offset := now.Zone()

	return probe.Navigator{
		UserAgent:           fmt.Sprintf("visitor-telemetry-agent/%s (%s; %s)", p.opts.Version, runtime.GOOS, runtime.GOARCH),
		Platform:            platformName(runtime.GOOS, runtime.GOARCH),
		Language:            tag.String(),
		Languages:           languages,
		HardwareConcurrency: runtime.NumCPU(),
		Online:              true,
		TimeZone:            p.timeZone(),
		TimezoneOffset:      -offset / 60,
	}
}

// locale resolves the POSIX locale variables to a BCP 47 tag.
func (p *Platform) locale() language.Tag {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		raw := p.opts.Getenv(name)
		if raw == "" || raw == "C" || raw == "POSIX" {
			continue
		}
		if i := strings.IndexAny(raw, ".@"); i >= 0 {
			raw = raw[:i]
		}
		tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
		if err == nil {
			return tag
		}
	}
	return language.AmericanEnglish
}

func (p *Platform) timeZone() string {
	if tz := p.opts.Getenv("TZ"); tz != "" {
		return strings.TrimPrefix(tz, ":")
	}
	if name := time.Local.String(); name != "Local" {
		return name
	}
	if target, err := os.Readlink(p.path("/etc/localtime")); err == nil {
		if _, zone, ok := strings.Cut(target, "zoneinfo/"); ok {
			return zone
		}
	}
	return "UTC"
}

func platformName(goos, goarch string) string {
	switch goos {
	case "windows":
		return "Win32"
	case "darwin":
		return "MacIntel"
	case "linux":
		switch goarch {
		case "amd64":
			return "Linux x86_64"
		case "arm64":
			return "Linux aarch64"
		}
		return "Linux " + goarch
	}
	return goos
}

// Screen is not available to a headless agent.
func (p *Platform) Screen() (probe.Screen, error) {
	return probe.Screen{}, probe.ErrUnsupported
}

func (p *Platform) Page() probe.Page {
	page := probe.Page{
		URL:      p.opts.URL,
		Title:    p.opts.Title,
		Referrer: p.opts.Referrer,
	}
	if u, err := url.Parse(p.opts.URL); err == nil {
		page.Hostname = u.Hostname()
	}
	return page
}

// Capabilities reports no web APIs.
func (p *Platform) Capabilities() probe.Capabilities {
	return probe.Capabilities{}
}

func (p *Platform) Connection(context.Context) (probe.Connection, error) {
	return probe.Connection{}, probe.ErrUnsupported
}

// Battery reads the first battery under /sys/class/power_supply on Linux.
func (p *Platform) Battery(context.Context) (probe.Battery, error) {
	if runtime.GOOS != "linux" && p.opts.SysRoot == "" {
		return probe.Battery{}, probe.ErrUnsupported
	}
	return readBattery(p.path("/sys/class/power_supply"))
}

func readBattery(dir string) (probe.Battery, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "BAT*"))
	if err != nil || len(matches) == 0 {
		return probe.Battery{}, probe.ErrUnsupported
	}
	supply := matches[0]

	raw, err := os.ReadFile(filepath.Join(supply, "capacity"))
	if err != nil {
		return probe.Battery{}, fmt.Errorf("read battery capacity: %w", err)
	}
	capacity, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return probe.Battery{}, fmt.Errorf("parse battery capacity: %w", err)
	}

	status := "Unknown"
	if raw, err := os.ReadFile(filepath.Join(supply, "status")); err == nil {
		status = strings.TrimSpace(string(raw))
	}
	charging := status == "Charging" || status == "Full"

	battery := probe.Battery{
		Charging:        charging,
		Level:           float64(capacity) / 100,
		ChargingTime:    math.Inf(1),
		DischargingTime: math.Inf(1),
	}
	if status == "Full" {
		battery.ChargingTime = 0
	}
	return battery, nil
}

// CurrentPosition is not available to the agent.
func (p *Platform) CurrentPosition(context.Context, probe.PositionOptions) (probe.Position, error) {
	return probe.Position{}, probe.ErrUnsupported
}

// Performance reports the time since StartedAt and the Go heap.
func (p *Platform) Performance(context.Context) (probe.Performance, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	elapsed := time.Since(p.opts.StartedAt)
	return probe.Performance{
		PageLoad:  elapsed,
		DOMReady:  elapsed,
		UsedHeap:  int64(mem.HeapAlloc),
		TotalHeap: int64(mem.HeapSys),
	}, nil
}

func (p *Platform) path(abs string) string {
	if p.opts.SysRoot == "" {
		return abs
	}
	return filepath.Join(p.opts.SysRoot, abs)
}
