// Package engagement accumulates how a visitor interacts with a page
// (scrolling, clicks, pointer movement, typing, form focus, sections seen)
// and flushes the running totals periodically, on exit intent and on unload.
//
// Flushing never resets the accumulator: every flush reports the totals since
// page load, so consumers must treat later flushes as superseding earlier
// ones.
package engagement

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// State is the tracker lifecycle.
type State int

const (
	Active State = iota
	Flushing
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Flushing:
		return "flushing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const (
	clickTextMax      = 50
	mouseMoveInterval = time.Second
	unnamedSection    = "unnamed"
)

// ClickTarget describes the interactive element a click landed on.
type ClickTarget struct {
	Text    string
	Tag     string
	Classes string
	Href    string
}

// ClickDetail is one entry of the bounded click history.
type ClickDetail struct {
	Text      string `json:"text"`
	Tag       string `json:"tag"`
	Classes   string `json:"classes"`
	Href      string `json:"href"`
	Timestamp int64  `json:"timestamp"` // ms since page load
}

// Snapshot is a copy of the accumulator, in the shape sent as the
// "analytics" field of an engagement record.
type Snapshot struct {
	PageLoadTime    int64         `json:"pageLoadTime"` // unix ms
	ScrollDepth     int           `json:"scrollDepth"`
	TimeSpent       int           `json:"timeSpent"`
	Clicks          int           `json:"clicks"`
	MouseMovements  int           `json:"mouseMovements"`
	Keystrokes      int           `json:"keystrokes"`
	FormsInteracted []string      `json:"formsInteracted"`
	ButtonsClicked  []ClickDetail `json:"buttonsClicked"`
	SectionsViewed  []string      `json:"sectionsViewed"`
	ExitIntent      bool          `json:"exitIntent"`
}

// Emit receives every flushed snapshot.
type Emit func(ctx context.Context, snapshot Snapshot)

// Options tune a Tracker. Zero values take the defaults.
type Options struct {
	ClickHistory  int           // default 100
	FlushInterval time.Duration // default 30s
	Clock         func() time.Time
}

// Tracker is the engagement state machine of one page view. It is safe for
// concurrent use by event callbacks and its own Run loop.
type Tracker struct {
	emit          Emit
	clock         func() time.Time
	clickHistory  int
	flushInterval time.Duration

	mu       sync.Mutex
	state    State
	inFlight int
	start    time.Time
	lastMove time.Time

	scrollDepth    int
	timeSpent      int
	clicks         int
	mouseMovements int
	keystrokes     int
	forms          orderedSet
	buttons        []ClickDetail
	sections       orderedSet
	exitIntent     bool
}

// New creates an Active tracker for a page loaded at start.
func New(start time.Time, emit Emit, opts Options) *Tracker {
	if opts.ClickHistory <= 0 {
		opts.ClickHistory = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Tracker{
		emit:          emit,
		clock:         opts.Clock,
		clickHistory:  opts.ClickHistory,
		flushInterval: opts.FlushInterval,
		start:         start,
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Scroll records a scroll position. Depth only ever grows.
func (t *Tracker) Scroll(scrolled, scrollable float64) {
	depth := 100
	if scrollable > 0 {
		ratio := math.Round(scrolled / scrollable * 100)
		depth = int(math.Max(0, math.Min(100, ratio)))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	t.scrollDepth = max(t.scrollDepth, depth)
}

// Click counts a click; target is nil unless the click hit an interactive
// element, in which case its details join the bounded history.
func (t *Tracker) Click(target *ClickTarget) {
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	t.clicks++
	if target == nil {
		return
	}
	t.buttons = append(t.buttons, ClickDetail{
		Text:      truncate(strings.TrimSpace(target.Text), clickTextMax),
		Tag:       strings.ToLower(target.Tag),
		Classes:   target.Classes,
		Href:      target.Href,
		Timestamp: now.Sub(t.start).Milliseconds(),
	})
	if len(t.buttons) > t.clickHistory {
		t.buttons = append([]ClickDetail(nil), t.buttons[len(t.buttons)-t.clickHistory:]...)
	}
}

// MouseMove counts pointer movement, at most once per second.
func (t *Tracker) MouseMove() {
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	if !t.lastMove.IsZero() && now.Sub(t.lastMove) < mouseMoveInterval {
		return
	}
	t.lastMove = now
	t.mouseMovements++
}

// Keystroke counts a key press.
func (t *Tracker) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	t.keystrokes++
}

// Focus records a form field, identified by name or id, as interacted with.
func (t *Tracker) Focus(fieldID string) {
	if fieldID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	t.forms.add(fieldID)
}

// SectionsVisible records sections currently in the viewport.
func (t *Tracker) SectionsVisible(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	for _, id := range ids {
		if id == "" {
			id = unnamedSection
		}
		t.sections.add(id)
	}
}

// MouseLeave handles the pointer leaving the document. Leaving through the
// top edge is exit intent and flushes immediately.
func (t *Tracker) MouseLeave(ctx context.Context, clientY float64) {
	if clientY > 0 {
		return
	}
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return
	}
	t.exitIntent = true
	t.mu.Unlock()

	t.Flush(ctx)
}

// Tick adds one second of time on page.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	t.timeSpent++
}

// Flush emits the current totals without resetting them.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return
	}
	snapshot := t.snapshotLocked()
	t.inFlight++
	t.state = Flushing
	t.mu.Unlock()

	t.send(ctx, snapshot)

	t.mu.Lock()
	t.inFlight--
	if t.state == Flushing && t.inFlight == 0 {
		t.state = Active
	}
	t.mu.Unlock()
}

// Unload recomputes time on page from the load time, sends the final
// snapshot and closes the tracker. Later calls do nothing.
func (t *Tracker) Unload(ctx context.Context) {
	now := t.clock()

	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return
	}
	t.timeSpent = int(math.Round(now.Sub(t.start).Seconds()))
	snapshot := t.snapshotLocked()
	t.state = Closed
	t.mu.Unlock()

	t.send(ctx, snapshot)
}

// Run ticks time on page every second and flushes on the configured
// interval until ctx is done or the tracker closes.
func (t *Tracker) Run(ctx context.Context) {
	second := time.NewTicker(time.Second)
	defer second.Stop()
	flush := time.NewTicker(t.flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-second.C:
			if t.State() == Closed {
				return
			}
			t.Tick()
		case <-flush.C:
			t.Flush(ctx)
		}
	}
}

// Snapshot returns a copy of the current totals.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		PageLoadTime:    t.start.UnixMilli(),
		ScrollDepth:     t.scrollDepth,
		TimeSpent:       t.timeSpent,
		Clicks:          t.clicks,
		MouseMovements:  t.mouseMovements,
		Keystrokes:      t.keystrokes,
		FormsInteracted: t.forms.list(),
		ButtonsClicked:  append([]ClickDetail{}, t.buttons...),
		SectionsViewed:  t.sections.list(),
		ExitIntent:      t.exitIntent,
	}
}

func (t *Tracker) send(ctx context.Context, snapshot Snapshot) {
	if t.emit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			telemetry.GetLogger().ErrorContext(ctx, "Engagement flush failed", "panic", r)
		}
	}()
	t.emit(ctx, snapshot)
}

// orderedSet keeps insertion order and drops duplicates.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func (s *orderedSet) add(v string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) list() []string {
	return append([]string{}, s.items...)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
