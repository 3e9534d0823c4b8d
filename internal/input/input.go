//go:build js && wasm

// Package input wires DOM events to the engagement tracker.
package input

import (
	"context"
	"fmt"
	"sync"
	"syscall/js"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/engagement"
)

const (
	scrollDebounce    = 100 * time.Millisecond
	interactiveTarget = `button, a, [role="button"]`
	formFieldTarget   = "input, textarea, select"
	sectionTarget     = "section, .section, [data-section]"
)

// InputHandler manages the page's event listeners
type InputHandler struct {
	tracker *engagement.Tracker
	ctx     context.Context

	listeners []listener

	scrollMu    sync.Mutex
	scrollTimer *time.Timer

	// Instrumentation fields
	eventCount        int64
	lastMetricsReport time.Time
}

type listener struct {
	target js.Value
	event  string
	fn     js.Func
}

// logInputMetric logs an input metric to console for observability
func (h *InputHandler) logInputMetric(metric string, value interface{}, detail string) {
	if js.Global().Get("console").Truthy() {
		js.Global().Get("console").Call("debug",
			fmt.Sprintf("[INPUT_METRIC] %s: %v - Context: %s",
				metric, value, detail))
	}
}

// New creates an input handler feeding tracker
func New(tracker *engagement.Tracker) *InputHandler {
	h := &InputHandler{
		tracker:           tracker,
		lastMetricsReport: time.Now(),
	}
	h.logInputMetric("input_handler_created", "initialized", "New input handler instance")
	return h
}

// SetupEventListeners attaches scroll, pointer, keyboard, focus and unload
// listeners. ctx is handed to flushes triggered by events.
func (h *InputHandler) SetupEventListeners(ctx context.Context) {
	h.ctx = ctx
	window := js.Global()
	document := window.Get("document")
	passive := js.ValueOf(map[string]any{"passive": true})

	h.listen(window, "scroll", passive, func(js.Value) {
		h.debounceScroll()
	})

	h.listen(document, "click", passive, func(event js.Value) {
		h.tracker.Click(clickTarget(event.Get("target")))
	})

	h.listen(document, "mousemove", passive, func(js.Value) {
		h.tracker.MouseMove()
	})

	h.listen(document, "keydown", passive, func(js.Value) {
		h.tracker.Keystroke()
	})

	h.listen(document, "focusin", js.Undefined(), func(event js.Value) {
		target := event.Get("target")
		if !matches(target, formFieldTarget) {
			return
		}
		id := target.Get("name").String()
		if id == "" {
			id = target.Get("id").String()
		}
		h.tracker.Focus(id)
	})

	h.listen(document, "mouseleave", js.Undefined(), func(event js.Value) {
		clientY := event.Get("clientY").Float()
		if clientY <= 0 {
			h.logInputMetric("exit_intent", clientY, "Pointer left through the top edge")
		}
		h.tracker.MouseLeave(h.ctx, clientY)
	})

	unload := func(js.Value) {
		h.logInputMetric("page_unload", "flushing", "Final engagement flush")
		h.tracker.Unload(h.ctx)
	}
	h.listen(window, "beforeunload", js.Undefined(), unload)
	h.listen(window, "pagehide", js.Undefined(), unload)

	// Sections already on screen at load count as viewed.
	h.trackSectionsViewed()
}

func (h *InputHandler) listen(target js.Value, event string, options js.Value, handle func(js.Value)) {
	fn := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		h.eventCount++
		var ev js.Value
		if len(args) > 0 {
			ev = args[0]
		}
		handle(ev)
		h.reportInputMetrics()
		return nil
	})
	if options.IsUndefined() {
		target.Call("addEventListener", event, fn)
	} else {
		target.Call("addEventListener", event, fn, options)
	}
	h.listeners = append(h.listeners, listener{target: target, event: event, fn: fn})
}

// debounceScroll measures scroll depth once scrolling pauses.
func (h *InputHandler) debounceScroll() {
	h.scrollMu.Lock()
	defer h.scrollMu.Unlock()
	if h.scrollTimer != nil {
		h.scrollTimer.Stop()
	}
	h.scrollTimer = time.AfterFunc(scrollDebounce, func() {
		window := js.Global()
		scrollHeight := window.Get("document").Get("documentElement").Get("scrollHeight").Float()
		scrollable := scrollHeight - window.Get("innerHeight").Float()
		h.tracker.Scroll(window.Get("scrollY").Float(), scrollable)
		h.trackSectionsViewed()
	})
}

// trackSectionsViewed reports every section intersecting the viewport.
func (h *InputHandler) trackSectionsViewed() {
	window := js.Global()
	viewportHeight := window.Get("innerHeight").Float()
	sections := window.Get("document").Call("querySelectorAll", sectionTarget)

	var visible []string
	for i := 0; i < sections.Get("length").Int(); i++ {
		section := sections.Index(i)
		rect := section.Call("getBoundingClientRect")
		if rect.Get("top").Float() < viewportHeight && rect.Get("bottom").Float() > 0 {
			id := section.Get("id").String()
			if id == "" {
				id = stringOr(section.Call("getAttribute", "class"))
			}
			visible = append(visible, id)
		}
	}
	if len(visible) > 0 {
		h.tracker.SectionsVisible(visible...)
	}
}

// reportInputMetrics reports event totals at most every 5 seconds
func (h *InputHandler) reportInputMetrics() {
	now := time.Now()
	if now.Sub(h.lastMetricsReport) >= 5*time.Second {
		snap := h.tracker.Snapshot()
		h.logInputMetric("input_summary",
			fmt.Sprintf("Events: %d, Clicks: %d, Moves: %d, Keys: %d, Scroll: %d%%",
				h.eventCount, snap.Clicks, snap.MouseMovements, snap.Keystrokes, snap.ScrollDepth),
			"Engagement input statistics")
		h.lastMetricsReport = now
	}
}

// clickTarget returns the interactive element a click landed in, if any.
func clickTarget(target js.Value) *engagement.ClickTarget {
	if target.IsUndefined() || target.IsNull() || target.Get("closest").IsUndefined() {
		return nil
	}
	el := target.Call("closest", interactiveTarget)
	if el.IsNull() {
		return nil
	}
	click := &engagement.ClickTarget{
		Text: stringOr(el.Get("textContent")),
		Tag:  stringOr(el.Get("tagName")),
		Href: stringOr(el.Get("href")),
	}
	if classes := el.Call("getAttribute", "class"); !classes.IsNull() {
		click.Classes = classes.String()
	}
	return click
}

func matches(el js.Value, selector string) bool {
	if el.IsUndefined() || el.IsNull() || el.Get("matches").IsUndefined() {
		return false
	}
	return el.Call("matches", selector).Bool()
}

func stringOr(v js.Value) string {
	if v.Type() != js.TypeString {
		return ""
	}
	return v.String()
}

// Cleanup removes and releases event listeners
func (h *InputHandler) Cleanup() {
	h.logInputMetric("input_cleanup", "releasing_callbacks", "Input handler cleanup")

	h.scrollMu.Lock()
	if h.scrollTimer != nil {
		h.scrollTimer.Stop()
	}
	h.scrollMu.Unlock()

	for _, l := range h.listeners {
		l.target.Call("removeEventListener", l.event, l.fn)
		l.fn.Release()
	}
	h.listeners = nil
}
