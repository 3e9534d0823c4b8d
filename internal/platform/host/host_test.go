package host

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nathannam/visitor-telemetry/internal/probe"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestNavigatorLocale(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		language  string
		languages []string
	}{
		{"lang with encoding", map[string]string{"LANG": "en_IN.UTF-8"}, "en-IN", []string{"en-IN", "en"}},
		{"lc_all wins", map[string]string{"LC_ALL": "de_DE@euro", "LANG": "en_IN.UTF-8"}, "de-DE", []string{"de-DE", "de"}},
		{"posix falls through", map[string]string{"LC_ALL": "C", "LANG": "fr_FR.UTF-8"}, "fr-FR", []string{"fr-FR", "fr"}},
		{"bare language", map[string]string{"LANG": "ja"}, "ja", []string{"ja"}},
		{"nothing set", map[string]string{}, "en-US", []string{"en-US", "en"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := New(Options{Getenv: envOf(tt.env)}).Navigator()
			if nav.Language != tt.language {
				t.Fatalf("language = %q, want %q", nav.Language, tt.language)
			}
			if strings.Join(nav.Languages, ",") != strings.Join(tt.languages, ",") {
				t.Fatalf("languages = %v, want %v", nav.Languages, tt.languages)
			}
		})
	}
}

func TestNavigatorAgent(t *testing.T) {
	nav := New(Options{Version: "1.2.3", Getenv: envOf(map[string]string{"TZ": "Asia/Kolkata"})}).Navigator()
	if !strings.HasPrefix(nav.UserAgent, "visitor-telemetry-agent/1.2.3 (") {
		t.Fatalf("user agent = %q", nav.UserAgent)
	}
	if nav.TimeZone != "Asia/Kolkata" {
		t.Fatalf("time zone = %q", nav.TimeZone)
	}
	if nav.HardwareConcurrency < 1 {
		t.Fatalf("hardware concurrency = %d", nav.HardwareConcurrency)
	}
}

func TestPlatformName(t *testing.T) {
	tests := map[[2]string]string{
		{"windows", "amd64"}: "Win32",
		{"darwin", "arm64"}:  "MacIntel",
		{"linux", "amd64"}:   "Linux x86_64",
		{"linux", "arm64"}:   "Linux aarch64",
		{"linux", "riscv64"}: "Linux riscv64",
		{"freebsd", "amd64"}: "freebsd",
	}
	for in, want := range tests {
		if got := platformName(in[0], in[1]); got != want {
			t.Errorf("platformName(%s, %s) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestPage(t *testing.T) {
	page := New(Options{
		URL:      "https://blog.nexgenaitech.online/post?id=1",
		Title:    "Post",
		Referrer: "https://www.google.com/",
	}).Page()
	if page.Hostname != "blog.nexgenaitech.online" {
		t.Fatalf("hostname = %q", page.Hostname)
	}
	if page.Referrer != "https://www.google.com/" {
		t.Fatalf("referrer = %q", page.Referrer)
	}
}

func TestHeadlessFacetsUnsupported(t *testing.T) {
	p := New(Options{})
	ctx := context.Background()

	if _, err := p.Screen(); !errors.Is(err, probe.ErrUnsupported) {
		t.Errorf("Screen err = %v", err)
	}
	if _, err := p.Connection(ctx); !errors.Is(err, probe.ErrUnsupported) {
		t.Errorf("Connection err = %v", err)
	}
	if _, err := p.CurrentPosition(ctx, probe.PositionOptions{}); !errors.Is(err, probe.ErrUnsupported) {
		t.Errorf("CurrentPosition err = %v", err)
	}
	if p.Capabilities().Geolocation {
		t.Error("agent must not claim geolocation")
	}
}

func writeSupply(t *testing.T, root, name, capacity, status string) {
	t.Helper()
	dir := filepath.Join(root, "sys", "class", "power_supply", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "capacity"), []byte(capacity+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBatteryFromSysfs(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", "64", "Discharging")

	battery, err := New(Options{SysRoot: root}).Battery(context.Background())
	if err != nil {
		t.Fatalf("Battery: %v", err)
	}
	if battery.Charging || battery.Level != 0.64 {
		t.Fatalf("battery = %+v", battery)
	}
	if !math.IsInf(battery.DischargingTime, 1) {
		t.Fatalf("discharging time = %v, want +Inf", battery.DischargingTime)
	}
}

func TestBatteryFull(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT1", "100", "Full")

	battery, err := New(Options{SysRoot: root}).Battery(context.Background())
	if err != nil {
		t.Fatalf("Battery: %v", err)
	}
	if !battery.Charging || battery.ChargingTime != 0 {
		t.Fatalf("battery = %+v", battery)
	}
}

func TestBatteryMissing(t *testing.T) {
	_, err := New(Options{SysRoot: t.TempDir()}).Battery(context.Background())
	if !errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestBatteryCorrupt(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", "lots", "Charging")

	_, err := New(Options{SysRoot: root}).Battery(context.Background())
	if err == nil || errors.Is(err, probe.ErrUnsupported) {
		t.Fatalf("err = %v, want a parse error", err)
	}
}

func TestPerformanceHeap(t *testing.T) {
	perf, err := New(Options{}).Performance(context.Background())
	if err != nil {
		t.Fatalf("Performance: %v", err)
	}
	if perf.TotalHeap <= 0 || perf.UsedHeap <= 0 {
		t.Fatalf("heap = %d/%d", perf.UsedHeap, perf.TotalHeap)
	}
}
