package probe

import (
	"context"

	"github.com/nathannam/visitor-telemetry/internal/models"
)

// HeapUsage is the JS heap reading, when the platform exposes one.
type HeapUsage struct {
	UsedJSHeapSize  int64 `json:"usedJSHeapSize"`
	TotalJSHeapSize int64 `json:"totalJSHeapSize"`
}

// PerformanceMetrics is the "metrics" field of a performance record.
type PerformanceMetrics struct {
	PageLoadTime  int64 `json:"pageLoadTime"`
	DOMReadyTime  int64 `json:"domReadyTime"`
	RedirectCount int   `json:"redirectCount"`
	Type          int   `json:"type"`
	Memory        any   `json:"memory"`
}

// PerformanceProbe reports navigation timing.
type PerformanceProbe struct {
	Platform Platform
}

func (PerformanceProbe) Fields() []string { return []string{"metrics"} }

func (p PerformanceProbe) Collect(ctx context.Context) Fields {
	return Fields{"metrics": p.Read(ctx)}
}

// Read returns PerformanceMetrics or a sentinel.
func (p PerformanceProbe) Read(ctx context.Context) any {
	perf, err := p.Platform.Performance(ctx)
	if err != nil {
		return sentinelFor(err)
	}
	metrics := PerformanceMetrics{
		PageLoadTime:  perf.PageLoad.Milliseconds(),
		DOMReadyTime:  perf.DOMReady.Milliseconds(),
		RedirectCount: perf.RedirectCount,
		Type:          perf.NavigationType,
		Memory:        models.Unavailable,
	}
	if perf.TotalHeap > 0 {
		metrics.Memory = HeapUsage{UsedJSHeapSize: perf.UsedHeap, TotalJSHeapSize: perf.TotalHeap}
	}
	return metrics
}
