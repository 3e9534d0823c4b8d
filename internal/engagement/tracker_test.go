package engagement

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *recorder) emit(_ context.Context, s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}

var loadTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestTracker(opts Options) (*Tracker, *fakeClock, *recorder) {
	clock := &fakeClock{now: loadTime}
	rec := &recorder{}
	opts.Clock = clock.Now
	return New(loadTime, rec.emit, opts), clock, rec
}

func TestScrollDepth(t *testing.T) {
	tr, _, _ := newTestTracker(Options{})

	steps := []struct {
		scrolled, scrollable float64
		want                 int
	}{
		{250, 1000, 25},
		{100, 1000, 25}, // never decreases
		{666, 1000, 67},
		{-50, 1000, 67},
		{5000, 1000, 100}, // clamped
	}
	for _, s := range steps {
		tr.Scroll(s.scrolled, s.scrollable)
		if got := tr.Snapshot().ScrollDepth; got != s.want {
			t.Fatalf("Scroll(%v, %v): depth = %d, want %d", s.scrolled, s.scrollable, got, s.want)
		}
	}
}

func TestScrollUnscrollablePage(t *testing.T) {
	tr, _, _ := newTestTracker(Options{})
	tr.Scroll(0, 0)
	if got := tr.Snapshot().ScrollDepth; got != 100 {
		t.Fatalf("depth = %d, want 100 for a page that fits the viewport", got)
	}
}

func TestClickHistoryBounded(t *testing.T) {
	tr, clock, _ := newTestTracker(Options{})

	for i := 0; i < 150; i++ {
		clock.Advance(10 * time.Millisecond)
		tr.Click(&ClickTarget{Text: "Button", Tag: "BUTTON"})
	}
	tr.Click(nil)

	snap := tr.Snapshot()
	if snap.Clicks != 151 {
		t.Fatalf("clicks = %d, want 151", snap.Clicks)
	}
	if len(snap.ButtonsClicked) != 100 {
		t.Fatalf("history = %d, want 100", len(snap.ButtonsClicked))
	}
	// Oldest evicted: the first kept click is the 51st, at 510ms.
	if snap.ButtonsClicked[0].Timestamp != 510 {
		t.Fatalf("oldest timestamp = %d, want 510", snap.ButtonsClicked[0].Timestamp)
	}
	if snap.ButtonsClicked[0].Tag != "button" {
		t.Fatalf("tag = %q, want lowercase", snap.ButtonsClicked[0].Tag)
	}
}

func TestClickTextTruncated(t *testing.T) {
	tr, _, _ := newTestTracker(Options{})
	tr.Click(&ClickTarget{Text: "   " + strings.Repeat("x", 80) + "  ", Tag: "a", Href: "https://x/"})

	detail := tr.Snapshot().ButtonsClicked[0]
	if len(detail.Text) != 50 {
		t.Fatalf("text length = %d, want 50", len(detail.Text))
	}
	if detail.Href != "https://x/" {
		t.Fatalf("href = %q", detail.Href)
	}
}

func TestMouseMoveThrottled(t *testing.T) {
	tr, clock, _ := newTestTracker(Options{})

	tr.MouseMove()
	for i := 0; i < 9; i++ {
		clock.Advance(100 * time.Millisecond)
		tr.MouseMove()
	}
	if got := tr.Snapshot().MouseMovements; got != 1 {
		t.Fatalf("movements within one second = %d, want 1", got)
	}

	clock.Advance(100 * time.Millisecond)
	tr.MouseMove()
	if got := tr.Snapshot().MouseMovements; got != 2 {
		t.Fatalf("movements = %d, want 2", got)
	}
}

func TestFocusAndSectionsDeduplicated(t *testing.T) {
	tr, _, _ := newTestTracker(Options{})

	tr.Focus("email")
	tr.Focus("name")
	tr.Focus("email")
	tr.Focus("")
	tr.SectionsVisible("hero", "services")
	tr.SectionsVisible("services", "", "contact")
	tr.Keystroke()
	tr.Keystroke()

	snap := tr.Snapshot()
	if strings.Join(snap.FormsInteracted, ",") != "email,name" {
		t.Fatalf("forms = %v", snap.FormsInteracted)
	}
	if strings.Join(snap.SectionsViewed, ",") != "hero,services,unnamed,contact" {
		t.Fatalf("sections = %v", snap.SectionsViewed)
	}
	if snap.Keystrokes != 2 {
		t.Fatalf("keystrokes = %d", snap.Keystrokes)
	}
}

func TestExitIntentFlushes(t *testing.T) {
	tr, _, rec := newTestTracker(Options{})
	ctx := context.Background()

	tr.MouseLeave(ctx, 200)
	if len(rec.all()) != 0 {
		t.Fatal("leaving through the side is not exit intent")
	}

	tr.MouseLeave(ctx, 0)
	snaps := rec.all()
	if len(snaps) != 1 || !snaps[0].ExitIntent {
		t.Fatalf("snapshots = %+v, want one with exit intent", snaps)
	}
	if tr.State() != Active {
		t.Fatalf("state = %v, want active after flush", tr.State())
	}
}

func TestFlushDoesNotReset(t *testing.T) {
	tr, _, rec := newTestTracker(Options{})
	ctx := context.Background()

	tr.Click(nil)
	tr.Flush(ctx)
	tr.Click(nil)
	tr.Flush(ctx)

	snaps := rec.all()
	if len(snaps) != 2 || snaps[0].Clicks != 1 || snaps[1].Clicks != 2 {
		t.Fatalf("snapshots = %+v", snaps)
	}
}

func TestUnloadClosesTracker(t *testing.T) {
	tr, clock, rec := newTestTracker(Options{})
	ctx := context.Background()

	tr.Tick()
	clock.Advance(42*time.Second + 600*time.Millisecond)
	tr.Unload(ctx)

	snaps := rec.all()
	if len(snaps) != 1 || snaps[0].TimeSpent != 43 {
		t.Fatalf("snapshots = %+v, want timeSpent recomputed to 43", snaps)
	}
	if tr.State() != Closed {
		t.Fatalf("state = %v, want closed", tr.State())
	}

	tr.Click(nil)
	tr.Tick()
	tr.Flush(ctx)
	tr.Unload(ctx)
	if len(rec.all()) != 1 {
		t.Fatal("closed tracker must not emit")
	}
	if tr.Snapshot().Clicks != 0 {
		t.Fatal("closed tracker must ignore events")
	}
}

func TestStateDuringFlush(t *testing.T) {
	clock := &fakeClock{now: loadTime}
	var tr *Tracker
	var during State
	tr = New(loadTime, func(context.Context, Snapshot) { during = tr.State() }, Options{Clock: clock.Now})

	tr.Flush(context.Background())
	if during != Flushing {
		t.Fatalf("state during emit = %v, want flushing", during)
	}
	if tr.State() != Active {
		t.Fatalf("state after = %v, want active", tr.State())
	}
}

func TestEmitPanicContained(t *testing.T) {
	tr := New(loadTime, func(context.Context, Snapshot) { panic("boom") }, Options{})
	tr.Flush(context.Background())
	if tr.State() != Active {
		t.Fatalf("state = %v", tr.State())
	}
}

func TestRunTicksAndFlushes(t *testing.T) {
	rec := &recorder{}
	tr := New(time.Now(), rec.emit, Options{FlushInterval: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 1300*time.Millisecond)
	defer cancel()

	tr.Run(ctx)

	if got := tr.Snapshot().TimeSpent; got < 1 {
		t.Fatalf("timeSpent = %d, want at least 1", got)
	}
	if len(rec.all()) < 2 {
		t.Fatalf("flushes = %d, want periodic flushes", len(rec.all()))
	}
}

func TestSnapshotJSONKeys(t *testing.T) {
	tr, _, _ := newTestTracker(Options{})
	data, err := json.Marshal(tr.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	_ = json.Unmarshal(data, &got)
	for _, key := range []string{
		"pageLoadTime", "scrollDepth", "timeSpent", "clicks", "mouseMovements",
		"keystrokes", "formsInteracted", "buttonsClicked", "sectionsViewed", "exitIntent",
	} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if got["formsInteracted"] == nil {
		t.Error("empty sets must encode as [] not null")
	}
}
