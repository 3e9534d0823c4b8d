package probe

import (
	"context"
	"regexp"
	"strings"
)

// Device classes reported in the visitor profile.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

var (
	mobileUA  = regexp.MustCompile(`(?i)Mobi|Android|iPhone|iPad|iPod`)
	tabletUA  = regexp.MustCompile(`(?i)Tablet|iPad`)
	iosUA     = regexp.MustCompile(`iPhone|iPad|iPod`)
	chromeUA  = regexp.MustCompile(`Chrome`)
	googleInc = regexp.MustCompile(`Google Inc`)
)

// Features is the typed capability record sent as the "features" field.
type Features struct {
	ServiceWorker  bool `json:"serviceWorker"`
	WebGL          bool `json:"webGL"`
	WebRTC         bool `json:"webRTC"`
	WebSocket      bool `json:"webSocket"`
	LocalStorage   bool `json:"localStorage"`
	SessionStorage bool `json:"sessionStorage"`
	IndexedDB      bool `json:"indexedDB"`

	IsChrome  bool `json:"isChrome"`
	IsFirefox bool `json:"isFirefox"`
	IsSafari  bool `json:"isSafari"`
	IsIE      bool `json:"isIE"`
	IsEdge    bool `json:"isEdge"`

	IsMobile  bool `json:"isMobile"`
	IsTablet  bool `json:"isTablet"`
	IsDesktop bool `json:"isDesktop"`

	IsWindows bool `json:"isWindows"`
	IsMac     bool `json:"isMac"`
	IsLinux   bool `json:"isLinux"`
	IsAndroid bool `json:"isAndroid"`
	IsIOS     bool `json:"isiOS"`
}

// DeviceType classifies the device as mobile, tablet or desktop.
func (f Features) DeviceType() string {
	switch {
	case f.IsMobile:
		return DeviceMobile
	case f.IsTablet:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// DetectFeatures derives the capability record from navigator data and the
// platform's API inventory.
func DetectFeatures(nav Navigator, caps Capabilities) Features {
	ua := nav.UserAgent
	mobile := mobileUA.MatchString(ua)
	return Features{
		ServiceWorker:  caps.ServiceWorker,
		WebGL:          caps.WebGL,
		WebRTC:         caps.WebRTC,
		WebSocket:      caps.WebSocket,
		LocalStorage:   caps.LocalStorage,
		SessionStorage: caps.SessionStorage,
		IndexedDB:      caps.IndexedDB,

		IsChrome:  chromeUA.MatchString(ua) && googleInc.MatchString(nav.Vendor),
		IsFirefox: caps.InstallTrigger,
		IsSafari:  isSafari(ua),
		IsIE:      caps.DocumentMode,
		IsEdge:    strings.Contains(ua, "Edg"),

		IsMobile:  mobile,
		IsTablet:  tabletUA.MatchString(ua),
		IsDesktop: !mobile,

		IsWindows: strings.Contains(nav.Platform, "Win"),
		IsMac:     strings.Contains(nav.Platform, "Mac"),
		IsLinux:   strings.Contains(nav.Platform, "Linux"),
		IsAndroid: strings.Contains(ua, "Android"),
		IsIOS:     iosUA.MatchString(ua),
	}
}

// isSafari matches a "safari" token not preceded by "chrome" or "android".
func isSafari(ua string) bool {
	lower := strings.ToLower(ua)
	idx := strings.Index(lower, "safari")
	if idx < 0 {
		return false
	}
	prefix := lower[:idx]
	return !strings.Contains(prefix, "chrome") && !strings.Contains(prefix, "android")
}

// FeaturesProbe reports the "features" field.
type FeaturesProbe struct {
	Platform Platform
}

func (FeaturesProbe) Fields() []string { return []string{"features"} }

func (p FeaturesProbe) Collect(context.Context) Fields {
	return Fields{"features": p.Detect()}
}

// Detect returns the capability record.
func (p FeaturesProbe) Detect() Features {
	return DetectFeatures(p.Platform.Navigator(), p.Platform.Capabilities())
}
