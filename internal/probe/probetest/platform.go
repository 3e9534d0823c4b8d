// Package probetest provides a configurable in-memory probe.Platform.
package probetest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/probe"
)

// Platform is a probe.Platform whose every answer is a field. Zero error
// fields mean success.
type Platform struct {
	Nav   probe.Navigator
	Scr   probe.Screen
	Pg    probe.Page
	Caps  probe.Capabilities
	Conn  probe.Connection
	Batt  probe.Battery
	Pos   probe.Position
	Perf  probe.Performance
	Panic string // when set, Navigator panics with this value

	ScreenErr      error
	ConnectionErr  error
	BatteryErr     error
	PositionErr    error
	PerformanceErr error

	// PositionDelay is how long CurrentPosition takes to answer, e.g. a
	// permission prompt left open.
	PositionDelay time.Duration

	positionCalls atomic.Int32
}

// Desktop returns a Platform resembling desktop Chrome on Windows with
// every API available.
func Desktop() *Platform {
	return &Platform{
		Nav: probe.Navigator{
			UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			Platform:            "Win32",
			Vendor:              "Google Inc.",
			Language:            "en-IN",
			Languages:           []string{"en-IN", "en"},
			DeviceMemory:        8,
			HardwareConcurrency: 8,
			CookieEnabled:       true,
			Online:              true,
			TimeZone:            "Asia/Kolkata",
			TimezoneOffset:      -330,
		},
		Scr: probe.Screen{Width: 1920, Height: 1080, ColorDepth: 24, Orientation: "landscape-primary", PixelRatio: 1},
		Pg: probe.Page{
			URL:      "https://www.nexgenaitech.online/services",
			Title:    "Services",
			Referrer: "https://www.linkedin.com/feed/",
			Hostname: "www.nexgenaitech.online",
		},
		Caps: probe.Capabilities{
			ServiceWorker: true, WebGL: true, WebRTC: true, WebSocket: true,
			LocalStorage: true, SessionStorage: true, IndexedDB: true, Geolocation: true,
		},
		Conn: probe.Connection{Type: "wifi", EffectiveType: "4g", Downlink: 10, RTT: 50},
		Batt: probe.Battery{Charging: true, Level: 0.87, ChargingTime: 1200},
		Pos:  probe.Position{Latitude: 12.9715987, Longitude: 77.5945627, Accuracy: 20.4},
		Perf: probe.Performance{RedirectCount: 0, NavigationType: 0},
	}
}

// PositionCalls reports how many times CurrentPosition was called.
func (p *Platform) PositionCalls() int {
	return int(p.positionCalls.Load())
}

func (p *Platform) Navigator() probe.Navigator {
	if p.Panic != "" {
		panic(p.Panic)
	}
	return p.Nav
}

func (p *Platform) Screen() (probe.Screen, error) { return p.Scr, p.ScreenErr }

func (p *Platform) Page() probe.Page { return p.Pg }

func (p *Platform) Capabilities() probe.Capabilities { return p.Caps }

func (p *Platform) Connection(context.Context) (probe.Connection, error) {
	return p.Conn, p.ConnectionErr
}

func (p *Platform) Battery(context.Context) (probe.Battery, error) {
	return p.Batt, p.BatteryErr
}

func (p *Platform) CurrentPosition(ctx context.Context, _ probe.PositionOptions) (probe.Position, error) {
	p.positionCalls.Add(1)
	if p.PositionDelay > 0 {
		timer := time.NewTimer(p.PositionDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return probe.Position{}, err
	}
	return p.Pos, p.PositionErr
}

func (p *Platform) Performance(context.Context) (probe.Performance, error) {
	return p.Perf, p.PerformanceErr
}
