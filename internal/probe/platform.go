package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsupported means the platform has no API for the facet.
	ErrUnsupported = errors.New("unsupported")
	// ErrUnavailable means the API exists but could not answer.
	ErrUnavailable = errors.New("unavailable")
)

// Position error codes, as reported by the Geolocation API.
const (
	PositionPermissionDenied = 1
	PositionUnavailable      = 2
	PositionTimeout          = 3
)

// PositionError is returned by Platform.CurrentPosition when the position
// request fails.
type PositionError struct {
	Code    int
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("geolocation error %d: %s", e.Code, e.Message)
}

// Platform is whatever hosts the pipeline: a browser page under wasm, or the
// native OS for the agent. Every facet is read through it so probes never
// sniff the environment themselves.
type Platform interface {
	Navigator() Navigator
	Screen() (Screen, error)
	Page() Page
	Capabilities() Capabilities
	Connection(ctx context.Context) (Connection, error)
	Battery(ctx context.Context) (Battery, error)
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
	Performance(ctx context.Context) (Performance, error)
}

// Navigator describes the user agent and locale.
type Navigator struct {
	UserAgent           string
	Platform            string
	Vendor              string
	Language            string
	Languages           []string
	MaxTouchPoints      int
	DeviceMemory        float64 // GiB, 0 when unknown
	HardwareConcurrency int     // 0 when unknown
	CookieEnabled       bool
	Online              bool
	TimeZone            string
	TimezoneOffset      int // minutes, UTC minus local, as Date.getTimezoneOffset
}

// Screen describes the display.
type Screen struct {
	Width       int
	Height      int
	ColorDepth  int
	Orientation string // empty when the platform does not report one
	PixelRatio  float64
}

// Page identifies the document being viewed.
type Page struct {
	URL      string
	Title    string
	Referrer string
	Hostname string
}

// Capabilities reports which platform APIs exist.
type Capabilities struct {
	ServiceWorker  bool
	WebGL          bool
	WebRTC         bool
	WebSocket      bool
	LocalStorage   bool
	SessionStorage bool
	IndexedDB      bool
	Geolocation    bool
	InstallTrigger bool // Firefox-only global
	DocumentMode   bool // legacy IE document mode
}

// Connection is the Network Information API reading.
type Connection struct {
	Type          string
	EffectiveType string
	Downlink      float64 // Mbit/s, 0 when unknown
	RTT           int     // ms, 0 when unknown
	SaveData      bool
}

// Battery is the Battery Status API reading.
type Battery struct {
	Charging        bool
	Level           float64 // 0..1
	ChargingTime    float64 // seconds, may be +Inf
	DischargingTime float64 // seconds, may be +Inf
}

// PositionOptions bound a position request.
type PositionOptions struct {
	Timeout            time.Duration
	MaximumAge         time.Duration
	EnableHighAccuracy bool
}

// Position is a successful geolocation fix.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Altitude  *float64
	Speed     *float64
}

// Performance is the navigation timing of the page.
type Performance struct {
	PageLoad       time.Duration
	DOMReady       time.Duration
	RedirectCount  int
	NavigationType int
	UsedHeap       int64 // bytes, 0 when unknown
	TotalHeap      int64
}
