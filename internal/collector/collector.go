// Package collector assembles the page-view telemetry record: it runs every
// probe concurrently, merges their fields, adds page, identity and derived
// business fields, and caches the visitor profile.
package collector

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/nathannam/visitor-telemetry/internal/config"
	"github.com/nathannam/visitor-telemetry/internal/identity"
	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/probe"
	"github.com/nathannam/visitor-telemetry/internal/session"
	"github.com/nathannam/visitor-telemetry/internal/storage"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// User categories derived from the referrer.
const (
	CategorySearchOrganic       = "search_organic"
	CategorySocialMedia         = "social_media"
	CategoryProfessionalNetwork = "professional_network"
	CategoryDirectTraffic       = "direct_traffic"
	CategoryEmailMarketing      = "email_marketing"
	CategoryOtherReferral       = "other_referral"
)

const (
	regionalTimeLayout = "02/01/2006, 15:04:05"
	basicUserAgentMax  = 100
	directReferrer     = "Direct"
)

var mobileUA = regexp.MustCompile(`(?i)Mobi|Android|iPhone`)

// Collector builds records for one platform.
type Collector struct {
	platform probe.Platform
	ids      *identity.Store
	probes   []probe.Probe
	domain   string
	region   *time.Location
	clock    func() time.Time

	collected metric.Int64Counter
}

// New creates a collector running the standard probe set against platform.
func New(platform probe.Platform, kv storage.KV, ids *identity.Store, client *http.Client, cfg config.Config) *Collector {
	region, err := time.LoadLocation(cfg.RegionTimezone)
	if err != nil {
		telemetry.GetLogger().Warn("Unknown region timezone, using UTC",
			"timezone", cfg.RegionTimezone,
			"error", err)
		region = time.UTC
	}

	return &Collector{
		platform: platform,
		ids:      ids,
		probes: []probe.Probe{
			probe.NavigatorProbe{Platform: platform},
			probe.ScreenProbe{Platform: platform},
			probe.NetworkProbe{Platform: platform},
			probe.BatteryProbe{Platform: platform},
			probe.GeolocationProbe{
				Platform: platform,
				KV:       kv,
				Options: probe.PositionOptions{
					Timeout:    cfg.GeolocationTimeout,
					MaximumAge: cfg.GeolocationMaxAge,
				},
				PromptGrace: cfg.GeolocationPromptGrace,
			},
			probe.IPLookupProbe{
				Client:      client,
				PrimaryURL:  cfg.IPLookupURL,
				FallbackURL: cfg.IPFallbackURL,
			},
			probe.FeaturesProbe{Platform: platform},
		},
		domain: cfg.Domain,
		region: region,
		clock:  time.Now,
		collected: telemetry.Counter("visitor_records_collected_total",
			"Telemetry records assembled, by kind"),
	}
}

// Collect gathers the full record for pv. It never fails: if anything goes
// wrong after the probes ran, the basic record is returned instead.
func (c *Collector) Collect(ctx context.Context, pv *session.PageView) (record models.Record) {
	ctx, span := telemetry.GetTracer().Start(ctx, "collector.Collect")
	defer span.End()
	logger := telemetry.GetLogger()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("collect panicked: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "collect failed")
			logger.ErrorContext(ctx, "Tracking error, sending basic record", "error", err)
			record = c.BasicRecord(pv)
			c.count(ctx, "basic")
		}
	}()

	record, err := c.collect(ctx, pv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collect failed")
		logger.ErrorContext(ctx, "Tracking error, sending basic record", "error", err)
		c.count(ctx, "basic")
		return c.BasicRecord(pv)
	}
	c.count(ctx, "full")
	return record
}

func (c *Collector) collect(ctx context.Context, pv *session.PageView) (models.Record, error) {
	results := make([]probe.Fields, len(c.probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.probes {
		g.Go(func() error {
			results[i] = probe.Run(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run probes: %w", err)
	}

	record := models.Record{}
	for _, fields := range results {
		for name, value := range fields {
			record[name] = value
		}
	}

	now := c.clock()
	page := pv.Page
	referrer := page.Referrer
	if referrer == "" {
		referrer = directReferrer
	}

	record["timestamp"] = models.FormatTimestamp(now)
	record["regionalTime"] = now.In(c.region).Format(regionalTimeLayout)
	record["pageUrl"] = page.URL
	record["pageTitle"] = page.Title
	record["referrer"] = referrer
	record["domain"] = c.domain
	record["subdomain"] = Subdomain(page.Hostname)

	record["sessionId"] = pv.SessionID
	record["visitorId"] = pv.VisitorID
	record["visitCount"] = pv.VisitCount
	record["firstVisit"] = pv.FirstVisit

	userAgent, _ := record["userAgent"].(string)
	record["userCategory"] = CategorizeUser(page.Referrer)
	record["interestScore"] = InterestScore(now.Hour(), userAgent, page.Referrer)

	if err := c.saveProfile(ctx, pv, record, now); err != nil {
		return nil, err
	}
	if _, err := record.Encode(); err != nil {
		return nil, fmt.Errorf("serialize record: %w", err)
	}
	return record, nil
}

func (c *Collector) saveProfile(ctx context.Context, pv *session.PageView, record models.Record, now time.Time) error {
	lang, _ := record["language"].(string)
	deviceType := models.Unknown
	if features, ok := record["features"].(probe.Features); ok {
		deviceType = features.DeviceType()
	}
	profile := models.VisitorProfile{
		LastVisit:         models.FormatTimestamp(now),
		TotalVisits:       pv.VisitCount,
		FirstVisit:        pv.FirstVisit,
		PreferredLanguage: CanonicalLanguage(lang),
		DeviceType:        deviceType,
	}
	if err := c.ids.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("store visitor info: %w", err)
	}
	return nil
}

// BasicRecord is the reduced record sent when the full one cannot be built.
// It reads the platform defensively so it cannot fail itself.
func (c *Collector) BasicRecord(pv *session.PageView) models.Record {
	record := models.Record{
		"timestamp":        models.FormatTimestamp(c.clock()),
		"pageUrl":          pv.Page.URL,
		"userAgent":        models.Unavailable,
		"screenResolution": models.Unavailable,
		"language":         models.Unavailable,
		"visitorId":        pv.VisitorID,
	}
	func() {
		defer func() { _ = recover() }()
		nav := c.platform.Navigator()
		record["userAgent"] = truncate(nav.UserAgent, basicUserAgentMax)
		record["language"] = nav.Language
	}()
	func() {
		defer func() { _ = recover() }()
		if screen, err := c.platform.Screen(); err == nil {
			record["screenResolution"] = probe.Resolution(screen)
		}
	}()
	return record
}

// PerformanceRecord wraps navigation timing metrics.
func (c *Collector) PerformanceRecord(metrics any) models.Record {
	return models.Record{
		"type":      models.TypePerformance,
		"timestamp": models.FormatTimestamp(c.clock()),
		"metrics":   metrics,
	}
}

// EngagementRecord wraps an engagement snapshot for pv.
func (c *Collector) EngagementRecord(pv *session.PageView, analytics any) models.Record {
	return models.Record{
		"type":      models.TypeEngagement,
		"timestamp": models.FormatTimestamp(c.clock()),
		"sessionId": pv.SessionID,
		"visitorId": pv.VisitorID,
		"pageUrl":   pv.Page.URL,
		"analytics": analytics,
	}
}

func (c *Collector) count(ctx context.Context, kind string) {
	c.collected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// CategorizeUser classifies the traffic source from the referrer. The checks
// are ordered; the first match wins.
func CategorizeUser(referrer string) string {
	ref := strings.ToLower(referrer)
	switch {
	case strings.Contains(ref, "google"):
		return CategorySearchOrganic
	case strings.Contains(ref, "facebook"), strings.Contains(ref, "instagram"):
		return CategorySocialMedia
	case strings.Contains(ref, "linkedin"):
		return CategoryProfessionalNetwork
	case strings.Contains(ref, "direct"), ref == "":
		return CategoryDirectTraffic
	case strings.Contains(ref, "mail"), strings.Contains(ref, "email"):
		return CategoryEmailMarketing
	default:
		return CategoryOtherReferral
	}
}

// InterestScore rates a visit from 0 to 100 by local hour, device and
// traffic source.
func InterestScore(hour int, userAgent, referrer string) int {
	score := 0
	if hour >= 9 && hour <= 17 {
		score += 20
	}
	if mobileUA.MatchString(userAgent) {
		score += 10
	}
	ref := strings.ToLower(referrer)
	if strings.Contains(ref, "linkedin") {
		score += 30
	}
	if strings.Contains(ref, "direct") {
		score += 15
	}
	return min(max(score, 0), 100)
}

// Subdomain returns the first label of hostname.
func Subdomain(hostname string) string {
	label, _, _ := strings.Cut(hostname, ".")
	return label
}

// CanonicalLanguage normalizes a BCP 47 tag ("en-in" -> "en-IN"), returning
// the input unchanged when it does not parse.
func CanonicalLanguage(tag string) string {
	if tag == "" {
		return tag
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return parsed.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
