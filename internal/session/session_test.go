package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/identity"
	"github.com/nathannam/visitor-telemetry/internal/probe"
	"github.com/nathannam/visitor-telemetry/internal/storage"
)

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("quota exceeded")
}
func (failingKV) Set(context.Context, string, string) error { return errors.New("quota exceeded") }

func TestBeginCountsOncePerPageView(t *testing.T) {
	ctx := context.Background()
	ids := identity.NewStore(storage.NewMemory())
	page := probe.Page{URL: "https://www.nexgenaitech.online/"}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := Begin(ctx, ids, page, start)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	second, err := Begin(ctx, ids, page, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if first.VisitCount != 1 || second.VisitCount != 2 {
		t.Fatalf("visit counts = %d, %d, want 1, 2", first.VisitCount, second.VisitCount)
	}
	if first.VisitorID != second.VisitorID {
		t.Fatalf("visitor id changed: %q -> %q", first.VisitorID, second.VisitorID)
	}
	if first.SessionID == second.SessionID {
		t.Fatalf("session id reused: %q", first.SessionID)
	}
	if !strings.HasPrefix(first.SessionID, "session_") {
		t.Fatalf("session id = %q", first.SessionID)
	}
	if first.FirstVisit != second.FirstVisit {
		t.Fatalf("first visit changed: %q -> %q", first.FirstVisit, second.FirstVisit)
	}
}

func TestBeginStorageFailure(t *testing.T) {
	_, err := Begin(context.Background(), identity.NewStore(failingKV{}), probe.Page{}, time.Now())
	if err == nil {
		t.Fatal("expected an error from a failing store")
	}
}

func TestElapsed(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	pv := &PageView{StartedAt: start}
	if got := pv.Elapsed(start.Add(42 * time.Second)); got != 42*time.Second {
		t.Fatalf("elapsed = %v", got)
	}
}
