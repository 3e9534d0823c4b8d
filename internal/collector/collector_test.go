package collector

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/config"
	"github.com/nathannam/visitor-telemetry/internal/identity"
	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/probe"
	"github.com/nathannam/visitor-telemetry/internal/probe/probetest"
	"github.com/nathannam/visitor-telemetry/internal/session"
	"github.com/nathannam/visitor-telemetry/internal/storage"
)

var fixedNow = time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC) // 10:00 in Kolkata

func testConfig(ipURL, fallbackURL string) config.Config {
	return config.Config{
		Endpoint:           "http://collector.invalid/exec",
		IPLookupURL:        ipURL,
		IPFallbackURL:      fallbackURL,
		Domain:             "nexgenaitech.online",
		RegionTimezone:     "Asia/Kolkata",
		GeolocationTimeout: time.Second,
		GeolocationMaxAge:  time.Minute,
	}
}

func ipServers(t *testing.T, primary, fallback http.HandlerFunc) (string, string) {
	t.Helper()
	p := httptest.NewServer(primary)
	t.Cleanup(p.Close)
	f := httptest.NewServer(fallback)
	t.Cleanup(f.Close)
	return p.URL, f.URL
}

func failing(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "down", http.StatusServiceUnavailable)
}

type harness struct {
	kv        *storage.Memory
	ids       *identity.Store
	platform  *probetest.Platform
	collector *Collector
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	kv := storage.NewMemory()
	ids := identity.NewStore(kv)
	platform := probetest.Desktop()
	c := New(platform, kv, ids, http.DefaultClient, cfg)
	c.clock = func() time.Time { return fixedNow }
	return &harness{kv: kv, ids: ids, platform: platform, collector: c}
}

func (h *harness) begin(t *testing.T) *session.PageView {
	t.Helper()
	pv, err := session.Begin(context.Background(), h.ids, h.platform.Page(), fixedNow)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return pv
}

func TestCategorizeUser(t *testing.T) {
	tests := []struct {
		referrer string
		want     string
	}{
		{"https://www.google.com/search?q=ai", CategorySearchOrganic},
		{"https://l.facebook.com/", CategorySocialMedia},
		{"https://www.instagram.com/", CategorySocialMedia},
		{"https://www.linkedin.com/feed/", CategoryProfessionalNetwork},
		{"", CategoryDirectTraffic},
		{"Direct", CategoryDirectTraffic},
		{"https://mail.yahoo.com/", CategoryEmailMarketing},
		{"https://news.ycombinator.com/", CategoryOtherReferral},
		// Ordered checks: google wins over mail.
		{"https://mail.google.com/", CategorySearchOrganic},
	}
	for _, tt := range tests {
		if got := CategorizeUser(tt.referrer); got != tt.want {
			t.Errorf("CategorizeUser(%q) = %q, want %q", tt.referrer, got, tt.want)
		}
	}
}

func TestInterestScore(t *testing.T) {
	const (
		desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
		mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) Mobile/15E148"
	)
	tests := []struct {
		name     string
		hour     int
		ua       string
		referrer string
		want     int
	}{
		{"night desktop search", 3, desktopUA, "https://google.com", 0},
		{"business hours start", 9, desktopUA, "", 20},
		{"business hours end", 17, desktopUA, "", 20},
		{"after hours", 18, desktopUA, "", 0},
		{"mobile", 22, mobileUA, "", 10},
		{"linkedin", 2, desktopUA, "https://www.linkedin.com/", 30},
		{"direct token", 2, desktopUA, "Direct", 15},
		{"everything", 11, mobileUA, "https://linkedin.com/direct", 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InterestScore(tt.hour, tt.ua, tt.referrer)
			if got != tt.want {
				t.Fatalf("InterestScore = %d, want %d", got, tt.want)
			}
		})
	}

	for hour := 0; hour < 24; hour++ {
		for _, ua := range []string{desktopUA, mobileUA} {
			for _, ref := range []string{"", "direct linkedin", "https://google.com"} {
				if got := InterestScore(hour, ua, ref); got < 0 || got > 100 {
					t.Fatalf("InterestScore(%d, %q, %q) = %d out of range", hour, ua, ref, got)
				}
			}
		}
	}
}

func TestSubdomain(t *testing.T) {
	tests := map[string]string{
		"www.nexgenaitech.online":  "www",
		"blog.nexgenaitech.online": "blog",
		"localhost":                "localhost",
		"":                         "",
	}
	for host, want := range tests {
		if got := Subdomain(host); got != want {
			t.Errorf("Subdomain(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestCanonicalLanguage(t *testing.T) {
	tests := map[string]string{
		"en-in":   "en-IN",
		"EN":      "en",
		"zh-hant": "zh-Hant",
		"":        "",
		"!!":      "!!",
	}
	for in, want := range tests {
		if got := CanonicalLanguage(in); got != want {
			t.Errorf("CanonicalLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCollectFullRecord(t *testing.T) {
	primary, fallback := ipServers(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ip":"203.0.113.7","city":"Bengaluru","country_name":"India"}`))
		},
		failing,
	)
	h := newHarness(t, testConfig(primary, fallback))
	pv := h.begin(t)

	record := h.collector.Collect(context.Background(), pv)

	want := map[string]any{
		"visitorId":        pv.VisitorID,
		"sessionId":        pv.SessionID,
		"visitCount":       1,
		"pageUrl":          "https://www.nexgenaitech.online/services",
		"pageTitle":        "Services",
		"referrer":         "https://www.linkedin.com/feed/",
		"domain":           "nexgenaitech.online",
		"subdomain":        "www",
		"timestamp":        "2026-03-02T04:30:00.000Z",
		"regionalTime":     "02/03/2026, 10:00:00",
		"userCategory":     CategoryProfessionalNetwork,
		"interestScore":    30,
		"screenResolution": "1920x1080",
	}
	for key, value := range want {
		if record[key] != value {
			t.Errorf("%s = %v, want %v", key, record[key], value)
		}
	}
	info, ok := record["ipInfo"].(probe.IPInfo)
	if !ok || info.Country != "India" {
		t.Errorf("ipInfo = %#v", record["ipInfo"])
	}
	if _, ok := record["geolocation"].(probe.GeoData); !ok {
		t.Errorf("geolocation = %#v", record["geolocation"])
	}
	if _, err := record.Encode(); err != nil {
		t.Fatalf("record must encode: %v", err)
	}

	profile, ok, err := h.ids.Profile(context.Background())
	if err != nil || !ok {
		t.Fatalf("profile not stored: ok=%v err=%v", ok, err)
	}
	if profile.DeviceType != probe.DeviceDesktop || profile.PreferredLanguage != "en-IN" || profile.TotalVisits != 1 {
		t.Fatalf("profile = %+v", profile)
	}
}

func TestCollectBothIPServicesFail(t *testing.T) {
	primary, fallback := ipServers(t, failing, failing)
	h := newHarness(t, testConfig(primary, fallback))

	record := h.collector.Collect(context.Background(), h.begin(t))

	if record["ipInfo"] != models.Unavailable {
		t.Fatalf("ipInfo = %v, want unavailable", record["ipInfo"])
	}
	for _, field := range []string{"userAgent", "screenResolution", "connection", "battery", "features", "userCategory", "interestScore"} {
		if _, ok := record[field]; !ok {
			t.Errorf("field %s missing", field)
		}
	}
	if record["userAgent"] == models.Unavailable {
		t.Error("userAgent must still be collected")
	}
}

func TestCollectDirectVisit(t *testing.T) {
	primary, fallback := ipServers(t, failing, failing)
	h := newHarness(t, testConfig(primary, fallback))
	h.platform.Pg.Referrer = ""

	record := h.collector.Collect(context.Background(), h.begin(t))
	if record["referrer"] != "Direct" {
		t.Fatalf("referrer = %v, want Direct", record["referrer"])
	}
	if record["userCategory"] != CategoryDirectTraffic {
		t.Fatalf("userCategory = %v", record["userCategory"])
	}
}

func TestCollectReusesVisitorID(t *testing.T) {
	primary, fallback := ipServers(t, failing, failing)
	h := newHarness(t, testConfig(primary, fallback))

	first := h.collector.Collect(context.Background(), h.begin(t))
	second := h.collector.Collect(context.Background(), h.begin(t))

	if first["visitorId"] != second["visitorId"] {
		t.Fatalf("visitor id changed: %v -> %v", first["visitorId"], second["visitorId"])
	}
	if first["sessionId"] == second["sessionId"] {
		t.Fatal("session id must change per page view")
	}
	if second["visitCount"] != 2 {
		t.Fatalf("visitCount = %v, want 2", second["visitCount"])
	}
}

func TestCollectUnserializableFallsBack(t *testing.T) {
	primary, fallback := ipServers(t, failing, failing)
	h := newHarness(t, testConfig(primary, fallback))
	h.platform.Scr.PixelRatio = math.NaN()
	pv := h.begin(t)

	record := h.collector.Collect(context.Background(), pv)

	if len(record) != 6 {
		t.Fatalf("basic record has %d fields: %v", len(record), record)
	}
	if record["visitorId"] != pv.VisitorID || record["screenResolution"] != "1920x1080" {
		t.Fatalf("basic record = %v", record)
	}
	if _, err := record.Encode(); err != nil {
		t.Fatalf("basic record must encode: %v", err)
	}
}

func TestBasicRecordTruncatesUserAgent(t *testing.T) {
	h := newHarness(t, testConfig("", ""))
	long := make([]byte, 250)
	for i := range long {
		long[i] = 'a'
	}
	h.platform.Nav.UserAgent = string(long)

	record := h.collector.BasicRecord(&session.PageView{VisitorID: "visitor_1_abc"})
	ua, _ := record["userAgent"].(string)
	if len(ua) != 100 {
		t.Fatalf("user agent length = %d, want 100", len(ua))
	}
}

func TestBasicRecordSurvivesPanickingPlatform(t *testing.T) {
	h := newHarness(t, testConfig("", ""))
	h.platform.Panic = "navigator gone"

	record := h.collector.BasicRecord(&session.PageView{VisitorID: "visitor_1_abc"})
	if record["userAgent"] != models.Unavailable || record["screenResolution"] != "1920x1080" {
		t.Fatalf("basic record = %v", record)
	}
}

func TestSecondaryRecords(t *testing.T) {
	h := newHarness(t, testConfig("", ""))
	pv := &session.PageView{SessionID: "session_1_abc", VisitorID: "visitor_1_abc", Page: probe.Page{URL: "https://x/"}}

	engagement := h.collector.EngagementRecord(pv, map[string]int{"clicks": 3})
	if engagement["type"] != models.TypeEngagement || engagement["sessionId"] != "session_1_abc" {
		t.Fatalf("engagement = %v", engagement)
	}
	flat, err := engagement.Flatten()
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	var analytics map[string]int
	if err := json.Unmarshal([]byte(flat["analytics"].(string)), &analytics); err != nil || analytics["clicks"] != 3 {
		t.Fatalf("analytics = %v (%v)", flat["analytics"], err)
	}

	perf := h.collector.PerformanceRecord(models.Unavailable)
	if perf["type"] != models.TypePerformance || perf["metrics"] != models.Unavailable {
		t.Fatalf("performance = %v", perf)
	}
}
