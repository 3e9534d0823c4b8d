package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nathannam/visitor-telemetry/internal/models"
)

// NavigatorProbe reports user agent, locale and hardware hints.
type NavigatorProbe struct {
	Platform Platform
}

func (NavigatorProbe) Fields() []string {
	return []string{
		"userAgent", "platform", "vendor", "maxTouchPoints",
		"language", "languages", "deviceMemory", "hardwareConcurrency",
		"cookieEnabled", "onlineStatus", "timezone", "timezoneOffset",
	}
}

func (p NavigatorProbe) Collect(context.Context) Fields {
	nav := p.Platform.Navigator()
	fields := Fields{
		"userAgent":           nav.UserAgent,
		"platform":            nav.Platform,
		"vendor":              nav.Vendor,
		"maxTouchPoints":      nav.MaxTouchPoints,
		"language":            nav.Language,
		"languages":           strings.Join(nav.Languages, ","),
		"deviceMemory":        models.Unknown,
		"hardwareConcurrency": models.Unknown,
		"cookieEnabled":       nav.CookieEnabled,
		"onlineStatus":        nav.Online,
		"timezone":            nav.TimeZone,
		"timezoneOffset":      nav.TimezoneOffset,
	}
	if nav.DeviceMemory > 0 {
		fields["deviceMemory"] = nav.DeviceMemory
	}
	if nav.HardwareConcurrency > 0 {
		fields["hardwareConcurrency"] = nav.HardwareConcurrency
	}
	return fields
}

// ScreenProbe reports display geometry.
type ScreenProbe struct {
	Platform Platform
}

func (ScreenProbe) Fields() []string {
	return []string{"screenResolution", "screenDepth", "screenOrientation", "devicePixelRatio"}
}

func (p ScreenProbe) Collect(context.Context) Fields {
	screen, err := p.Platform.Screen()
	if err != nil {
		sentinel := sentinelFor(err)
		return Fields{
			"screenResolution":  sentinel,
			"screenDepth":       sentinel,
			"screenOrientation": sentinel,
			"devicePixelRatio":  sentinel,
		}
	}
	return Fields{
		"screenResolution":  Resolution(screen),
		"screenDepth":       screen.ColorDepth,
		"screenOrientation": Orientation(screen),
		"devicePixelRatio":  screen.PixelRatio,
	}
}

// Resolution formats a screen as "WxH".
func Resolution(s Screen) string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Orientation returns the platform-reported orientation, or derives
// portrait/landscape from the geometry.
func Orientation(s Screen) string {
	if s.Orientation != "" {
		return s.Orientation
	}
	if s.Height >= s.Width {
		return "portrait"
	}
	return "landscape"
}

// ConnectionInfo is the "connection" field.
type ConnectionInfo struct {
	Type          string `json:"type"`
	EffectiveType string `json:"effectiveType"`
	Downlink      any    `json:"downlink"`
	RTT           any    `json:"rtt"`
	SaveData      bool   `json:"saveData"`
}

// NetworkProbe reports the Network Information API.
type NetworkProbe struct {
	Platform Platform
}

func (NetworkProbe) Fields() []string { return []string{"connection"} }

func (p NetworkProbe) Collect(ctx context.Context) Fields {
	return Fields{"connection": p.Read(ctx)}
}

// Read returns a ConnectionInfo or a sentinel.
func (p NetworkProbe) Read(ctx context.Context) any {
	conn, err := p.Platform.Connection(ctx)
	if err != nil {
		return sentinelFor(err)
	}
	info := ConnectionInfo{
		Type:          orUnknown(conn.Type),
		EffectiveType: orUnknown(conn.EffectiveType),
		Downlink:      models.Unknown,
		RTT:           models.Unknown,
		SaveData:      conn.SaveData,
	}
	if conn.Downlink > 0 {
		info.Downlink = conn.Downlink
	}
	if conn.RTT > 0 {
		info.RTT = conn.RTT
	}
	return info
}

// BatteryInfo is the "battery" field. Infinite times encode as null.
type BatteryInfo struct {
	Charging        bool `json:"charging"`
	Level           int  `json:"level"`
	ChargingTime    any  `json:"chargingTime"`
	DischargingTime any  `json:"dischargingTime"`
}

// BatteryProbe reports the Battery Status API.
type BatteryProbe struct {
	Platform Platform
}

func (BatteryProbe) Fields() []string { return []string{"battery"} }

func (p BatteryProbe) Collect(ctx context.Context) Fields {
	return Fields{"battery": p.Read(ctx)}
}

// Read returns a BatteryInfo or a sentinel.
func (p BatteryProbe) Read(ctx context.Context) any {
	battery, err := p.Platform.Battery(ctx)
	if errors.Is(err, ErrUnsupported) {
		return models.Unsupported
	}
	if err != nil {
		return models.Unavailable
	}
	return BatteryInfo{
		Charging:        battery.Charging,
		Level:           int(math.Round(battery.Level * 100)),
		ChargingTime:    finiteOrNil(battery.ChargingTime),
		DischargingTime: finiteOrNil(battery.DischargingTime),
	}
}

func finiteOrNil(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func orUnknown(s string) string {
	if s == "" {
		return models.Unknown
	}
	return s
}

func sentinelFor(err error) string {
	if errors.Is(err, ErrUnsupported) {
		return models.Unsupported
	}
	return models.Unavailable
}
