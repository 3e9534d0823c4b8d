// Package session holds the state scoped to one page view. A PageView is
// created once when the page loads and passed to everything that needs the
// visit's identity, replacing page-global variables.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/identity"
	"github.com/nathannam/visitor-telemetry/internal/probe"
)

// PageView is the identity and timing of the current page load.
type PageView struct {
	SessionID  string
	VisitorID  string
	VisitCount int
	FirstVisit string
	StartedAt  time.Time
	Page       probe.Page
}

// Begin starts a page view: it mints the session id, resolves the visitor id
// and first visit, and bumps the visit counter exactly once.
func Begin(ctx context.Context, ids *identity.Store, page probe.Page, now time.Time) (*PageView, error) {
	visitorID, err := ids.GetOrCreateVisitorID(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin page view: %w", err)
	}
	count, err := ids.IncrementVisitCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin page view: %w", err)
	}
	first, err := ids.EnsureFirstVisit(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin page view: %w", err)
	}
	return &PageView{
		SessionID:  ids.NewSessionID(),
		VisitorID:  visitorID,
		VisitCount: count,
		FirstVisit: first,
		StartedAt:  now,
		Page:       page,
	}, nil
}

// Elapsed returns the time since the page view started.
func (pv *PageView) Elapsed(now time.Time) time.Duration {
	return now.Sub(pv.StartedAt)
}
