// Package delivery ships telemetry records to the analytics endpoint.
//
// Every record is dispatched twice, as a beacon and as a regular POST, and
// neither is awaited. Records that cannot even be dispatched go to a bounded
// local retry queue, which is drained with confirmed deliveries at the start
// of the next page view.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathannam/visitor-telemetry/internal/config"
	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

const defaultInitialInterval = 500 * time.Millisecond

// Sender dispatches records over a Transport and falls back to a Queue.
type Sender struct {
	transport     Transport
	queue         *Queue
	endpoint      string
	maxRetries    int
	drainAttempts uint
	initial       time.Duration

	sent    metric.Int64Counter
	queued  metric.Int64Counter
	dropped metric.Int64Counter
}

// NewSender creates a sender posting to cfg.Endpoint.
func NewSender(transport Transport, queue *Queue, cfg config.Config) *Sender {
	maxRetries := cfg.MaxRetryCount
	if maxRetries <= 0 {
		maxRetries = 5
	}
	attempts := cfg.DrainAttempts
	if attempts == 0 {
		attempts = 3
	}
	return &Sender{
		transport:     transport,
		queue:         queue,
		endpoint:      cfg.Endpoint,
		maxRetries:    maxRetries,
		drainAttempts: attempts,
		initial:       defaultInitialInterval,
		sent:          telemetry.Counter("visitor_records_sent_total", "Records dispatched to the analytics endpoint"),
		queued:        telemetry.Counter("visitor_records_queued_total", "Records placed in the retry queue"),
		dropped:       telemetry.Counter("visitor_records_dropped_total", "Records given up on"),
	}
}

// Send flattens and dispatches record on both paths without waiting for
// either. It never fails; undispatchable records are queued.
func (s *Sender) Send(ctx context.Context, record models.Record) {
	ctx, span := telemetry.GetTracer().Start(ctx, "delivery.Send",
		trace.WithAttributes(attribute.String("record.type", recordType(record))))
	defer span.End()
	logger := telemetry.GetLogger()

	body, err := record.Encode()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		logger.ErrorContext(ctx, "Analytics send failed", "error", err)
		s.enqueue(ctx, record)
		return
	}

	beaconErr := s.transport.Beacon(s.endpoint, body)
	postErr := s.transport.Post(ctx, s.endpoint, body)
	if beaconErr != nil && postErr != nil {
		err := errors.Join(beaconErr, postErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		logger.ErrorContext(ctx, "Analytics send failed", "error", err)
		s.enqueue(ctx, record)
		return
	}
	if beaconErr != nil {
		logger.DebugContext(ctx, "Beacon dispatch failed", "error", beaconErr)
	}
	if postErr != nil {
		logger.DebugContext(ctx, "POST dispatch failed", "error", postErr)
	}
	s.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "dispatch")))
}

func (s *Sender) enqueue(ctx context.Context, record models.Record) {
	if err := s.queue.Push(ctx, record); err != nil {
		telemetry.GetLogger().ErrorContext(ctx, "Failed to queue analytics for retry", "error", err)
		s.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "queue")))
		return
	}
	s.queued.Add(ctx, 1)
}

// DrainResult summarizes one Redeliver pass.
type DrainResult struct {
	Delivered int
	Requeued  int
	Dropped   int
}

// Redeliver delivers every queued entry with confirmation, retrying with
// exponential backoff. Entries stay in storage until their outcome is known:
// delivered ones are removed, failed ones keep their place with the retry
// count bumped, unless it reaches the limit.
func (s *Sender) Redeliver(ctx context.Context) (DrainResult, error) {
	ctx, span := telemetry.GetTracer().Start(ctx, "delivery.Redeliver")
	defer span.End()
	logger := telemetry.GetLogger()

	var result DrainResult
	entries, err := s.queue.Entries(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}
	span.SetAttributes(attribute.Int("queue.entries", len(entries)))

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		var next *models.QueueEntry
		err := s.deliver(ctx, entry)
		switch {
		case err == nil:
			result.Delivered++
			s.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "redeliver")))
		case entry.RetryCount+1 >= s.maxRetries || isPermanent(err):
			logger.WarnContext(ctx, "Dropping queued record",
				"retryCount", entry.RetryCount+1,
				"error", err)
			result.Dropped++
			s.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "retries")))
		default:
			bumped := entry
			bumped.RetryCount++
			next = &bumped
		}

		found, err := s.queue.Resolve(ctx, entry, next)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed")
			return result, err
		}
		if next != nil && found {
			result.Requeued++
		}
	}

	logger.InfoContext(ctx, "Retry queue drained",
		"delivered", result.Delivered,
		"requeued", result.Requeued,
		"dropped", result.Dropped)
	return result, nil
}

func (s *Sender) deliver(ctx context.Context, entry models.QueueEntry) error {
	body, err := entry.Payload.Encode()
	if err != nil {
		return backoff.Permanent(err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.initial

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := s.transport.Deliver(ctx, s.endpoint, body)
		var status *StatusError
		if errors.As(err, &status) && status.Permanent() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(s.drainAttempts),
	)
	return err
}

func isPermanent(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Permanent()
	}
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

func recordType(record models.Record) string {
	if t, ok := record["type"].(string); ok {
		return t
	}
	return "pageview"
}
