// Package probe reads environment facets (network, battery, position, IP
// geolocation, capabilities, screen) into record fields.
//
// Every probe resolves to a value: when a facet is missing, denied or fails
// the field holds a sentinel string from the models package instead. Collect
// must not panic past Run; Run converts any panic into the "unavailable"
// sentinel for all of the probe's fields.
package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// Fields maps record field names to probe values.
type Fields map[string]any

// Probe reads one environment facet.
type Probe interface {
	// Fields lists the record fields Collect fills; the first names the probe.
	Fields() []string
	Collect(ctx context.Context) Fields
}

var (
	sentinelOnce    sync.Once
	sentinelCounter metric.Int64Counter
)

func sentinels() metric.Int64Counter {
	sentinelOnce.Do(func() {
		sentinelCounter = telemetry.Counter("visitor_probe_sentinels_total",
			"Probe fields resolved to a sentinel value")
	})
	return sentinelCounter
}

// Run collects p, guaranteeing that every field p declares is present in
// the result and that a panic inside p never escapes.
func Run(ctx context.Context, p Probe) (fields Fields) {
	names := p.Fields()
	name := "probe"
	if len(names) > 0 {
		name = names[0]
	}

	ctx, span := telemetry.GetTracer().Start(ctx, "probe."+name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("probe %s panicked: %v", name, r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "probe panicked")
			telemetry.GetLogger().WarnContext(ctx, "Probe failed", "probe", name, "error", err)
			fields = make(Fields, len(names))
		}
		for _, field := range names {
			if _, ok := fields[field]; !ok {
				fields[field] = models.Unavailable
			}
		}
		for field, value := range fields {
			if s, ok := value.(string); ok && IsSentinel(s) {
				sentinels().Add(ctx, 1, metric.WithAttributes(
					attribute.String("field", field),
					attribute.String("sentinel", s),
				))
			}
		}
	}()

	fields = p.Collect(ctx)
	if fields == nil {
		fields = make(Fields, len(names))
	}
	return fields
}

// IsSentinel reports whether s is one of the sentinel values.
func IsSentinel(s string) bool {
	switch s {
	case models.Unsupported, models.Unavailable, models.PermissionDenied:
		return true
	}
	return strings.HasPrefix(s, "geolocation_error_")
}
