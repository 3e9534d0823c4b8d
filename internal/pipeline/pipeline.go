// Package pipeline runs one page view end to end: it drains the retry queue,
// begins the page view, collects and sends the main record, sends the
// performance record after a delay, and tracks engagement until unload.
package pipeline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathannam/visitor-telemetry/internal/collector"
	"github.com/nathannam/visitor-telemetry/internal/config"
	"github.com/nathannam/visitor-telemetry/internal/delivery"
	"github.com/nathannam/visitor-telemetry/internal/engagement"
	"github.com/nathannam/visitor-telemetry/internal/identity"
	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/probe"
	"github.com/nathannam/visitor-telemetry/internal/session"
	"github.com/nathannam/visitor-telemetry/internal/storage"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// Deps are the environment-specific pieces of a pipeline.
type Deps struct {
	Platform  probe.Platform
	KV        storage.KV
	Transport delivery.Transport
	Client    *http.Client
}

// Pipeline owns the collaborators of one page view.
type Pipeline struct {
	cfg       config.Config
	platform  probe.Platform
	ids       *identity.Store
	collector *collector.Collector
	sender    *delivery.Sender
	clock     func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	tracker *engagement.Tracker
}

// New assembles a pipeline from cfg and deps.
func New(cfg config.Config, deps Deps) *Pipeline {
	ids := identity.NewStore(deps.KV)
	queue := delivery.NewQueue(deps.KV, cfg.QueueCapacity)
	return &Pipeline{
		cfg:       cfg,
		platform:  deps.Platform,
		ids:       ids,
		collector: collector.New(deps.Platform, deps.KV, ids, deps.Client, cfg),
		sender:    delivery.NewSender(deps.Transport, queue, cfg),
		clock:     time.Now,
	}
}

// Start runs the page view up to the point where only engagement remains.
// The queue drain, the delayed performance record and the engagement loop
// continue in the background until Stop and Wait.
func (p *Pipeline) Start(ctx context.Context) (*session.PageView, *engagement.Tracker) {
	ctx, span := telemetry.GetTracer().Start(ctx, "pipeline.Start")
	defer span.End()
	logger := telemetry.GetLogger()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.sender.Redeliver(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "Retry queue drain failed", "error", err)
		}
	}()

	now := p.clock()
	page := p.platform.Page()
	pv, err := session.Begin(ctx, p.ids, page, now)
	if err != nil {
		logger.ErrorContext(ctx, "Identity storage unavailable, using an ephemeral page view", "error", err)
		pv = &session.PageView{
			SessionID:  p.ids.NewSessionID(),
			VisitorID:  models.Unavailable,
			FirstVisit: models.FormatTimestamp(now),
			StartedAt:  now,
			Page:       page,
		}
	}
	span.SetAttributes(
		attribute.String("session.id", pv.SessionID),
		attribute.Int("visit.count", pv.VisitCount),
	)

	p.sender.Send(ctx, p.collector.Collect(ctx, pv))
	p.schedulePerformance(ctx)

	tracker := engagement.New(pv.StartedAt, func(ctx context.Context, snapshot engagement.Snapshot) {
		p.sender.Send(ctx, p.collector.EngagementRecord(pv, snapshot))
	}, engagement.Options{
		ClickHistory:  p.cfg.ClickHistory,
		FlushInterval: p.cfg.FlushInterval,
	})
	p.mu.Lock()
	p.tracker = tracker
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		tracker.Run(ctx)
	}()

	logger.InfoContext(ctx, "Page view started",
		"sessionId", pv.SessionID,
		"visitorId", pv.VisitorID,
		"visitCount", pv.VisitCount)
	return pv, tracker
}

func (p *Pipeline) schedulePerformance(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(p.cfg.PerformanceDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ctx, span := telemetry.GetTracer().Start(ctx, "pipeline.performance",
			trace.WithAttributes(attribute.String("record.type", models.TypePerformance)))
		defer span.End()
		fields := probe.Run(ctx, probe.PerformanceProbe{Platform: p.platform})
		p.sender.Send(ctx, p.collector.PerformanceRecord(fields["metrics"]))
	}()
}

// Stop unloads the page: the tracker sends its final snapshot and closes.
func (p *Pipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	tracker := p.tracker
	p.mu.Unlock()
	if tracker != nil {
		tracker.Unload(ctx)
	}
}

// Wait blocks until the background work started by Start has finished.
// Stop (or cancelling Start's context) must come first.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
