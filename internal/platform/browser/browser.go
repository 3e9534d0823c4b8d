//go:build js && wasm

// Package browser implements probe.Platform over the page's JavaScript
// globals.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall/js"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/probe"
)

// Platform reads facets from window, navigator and document.
type Platform struct {
	window js.Value
}

// New returns a platform over the global object.
func New() *Platform {
	return &Platform{window: js.Global()}
}

func (p *Platform) navigator() js.Value {
	return p.window.Get("navigator")
}

func (p *Platform) Navigator() probe.Navigator {
	nav := p.navigator()
	n := probe.Navigator{
		UserAgent:      stringOf(nav.Get("userAgent")),
		Platform:       stringOf(nav.Get("platform")),
		Vendor:         stringOf(nav.Get("vendor")),
		Language:       stringOf(nav.Get("language")),
		MaxTouchPoints: intOf(nav.Get("maxTouchPoints")),
		DeviceMemory:   floatOf(nav.Get("deviceMemory")),
		CookieEnabled:  nav.Get("cookieEnabled").Truthy(),
		Online:         nav.Get("onLine").Truthy(),

		HardwareConcurrency: intOf(nav.Get("hardwareConcurrency")),
	}

	if languages := nav.Get("languages"); languages.Truthy() {
		for i := 0; i < languages.Length(); i++ {
			n.Languages = append(n.Languages, languages.Index(i).String())
		}
	}

	if intl := p.window.Get("Intl"); intl.Truthy() {
		n.TimeZone = stringOf(intl.Get("DateTimeFormat").Invoke().
			Call("resolvedOptions").Get("timeZone"))
	}
	n.TimezoneOffset = p.window.Get("Date").New().Call("getTimezoneOffset").Int()
	return n
}

func (p *Platform) Screen() (probe.Screen, error) {
	screen := p.window.Get("screen")
	if !screen.Truthy() {
		return probe.Screen{}, probe.ErrUnsupported
	}
	s := probe.Screen{
		Width:      intOf(screen.Get("width")),
		Height:     intOf(screen.Get("height")),
		ColorDepth: intOf(screen.Get("colorDepth")),
		PixelRatio: floatOf(p.window.Get("devicePixelRatio")),
	}
	if orientation := screen.Get("orientation"); orientation.Truthy() {
		s.Orientation = stringOf(orientation.Get("type"))
	}
	if s.Orientation == "" {
		if matchMedia := p.window.Get("matchMedia"); matchMedia.Truthy() {
			s.Orientation = "landscape"
			if p.window.Call("matchMedia", "(orientation: portrait)").Get("matches").Bool() {
				s.Orientation = "portrait"
			}
		}
	}
	return s, nil
}

func (p *Platform) Page() probe.Page {
	location := p.window.Get("location")
	document := p.window.Get("document")
	return probe.Page{
		URL:      stringOf(location.Get("href")),
		Title:    stringOf(document.Get("title")),
		Referrer: stringOf(document.Get("referrer")),
		Hostname: stringOf(location.Get("hostname")),
	}
}

func (p *Platform) Capabilities() probe.Capabilities {
	nav := p.navigator()
	return probe.Capabilities{
		ServiceWorker:  has(nav, "serviceWorker"),
		WebGL:          p.hasWebGL(),
		WebRTC:         hasUserMedia(nav),
		WebSocket:      p.window.Get("WebSocket").Truthy(),
		LocalStorage:   p.hasStorage("localStorage"),
		SessionStorage: p.hasStorage("sessionStorage"),
		IndexedDB:      p.window.Get("indexedDB").Truthy(),
		Geolocation:    has(nav, "geolocation"),
		InstallTrigger: !p.window.Get("InstallTrigger").IsUndefined(),
		DocumentMode:   p.window.Get("document").Get("documentMode").Truthy(),
	}
}

func (p *Platform) hasWebGL() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if !p.window.Get("WebGLRenderingContext").Truthy() {
		return false
	}
	canvas := p.window.Get("document").Call("createElement", "canvas")
	return canvas.Call("getContext", "webgl").Truthy() ||
		canvas.Call("getContext", "experimental-webgl").Truthy()
}

// hasStorage guards the access: a sandboxed page throws on it.
func (p *Platform) hasStorage(name string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return p.window.Get(name).Truthy()
}

func (p *Platform) Connection(context.Context) (probe.Connection, error) {
	nav := p.navigator()
	var conn js.Value
	for _, name := range []string{"connection", "mozConnection", "webkitConnection"} {
		if v := nav.Get(name); v.Truthy() {
			conn = v
			break
		}
	}
	if !conn.Truthy() {
		return probe.Connection{}, probe.ErrUnsupported
	}
	return probe.Connection{
		Type:          stringOf(conn.Get("type")),
		EffectiveType: stringOf(conn.Get("effectiveType")),
		Downlink:      floatOf(conn.Get("downlink")),
		RTT:           intOf(conn.Get("rtt")),
		SaveData:      conn.Get("saveData").Truthy(),
	}, nil
}

func (p *Platform) Battery(ctx context.Context) (probe.Battery, error) {
	nav := p.navigator()
	if !nav.Get("getBattery").Truthy() {
		return probe.Battery{}, probe.ErrUnsupported
	}
	battery, err := await(ctx, nav.Call("getBattery"))
	if err != nil {
		return probe.Battery{}, fmt.Errorf("%w: %v", probe.ErrUnavailable, err)
	}
	return probe.Battery{
		Charging:        battery.Get("charging").Bool(),
		Level:           battery.Get("level").Float(),
		ChargingTime:    battery.Get("chargingTime").Float(),
		DischargingTime: battery.Get("dischargingTime").Float(),
	}, nil
}

func (p *Platform) CurrentPosition(ctx context.Context, opts probe.PositionOptions) (probe.Position, error) {
	geolocation := p.navigator().Get("geolocation")
	if !geolocation.Truthy() {
		return probe.Position{}, probe.ErrUnsupported
	}

	type result struct {
		pos probe.Position
		err error
	}
	done := make(chan result, 1)

	onSuccess := js.FuncOf(func(this js.Value, args []js.Value) any {
		coords := args[0].Get("coords")
		pos := probe.Position{
			Latitude:  coords.Get("latitude").Float(),
			Longitude: coords.Get("longitude").Float(),
			Accuracy:  coords.Get("accuracy").Float(),
		}
		if altitude := coords.Get("altitude"); altitude.Type() == js.TypeNumber {
			v := altitude.Float()
			pos.Altitude = &v
		}
		if speed := coords.Get("speed"); speed.Type() == js.TypeNumber {
			v := speed.Float()
			pos.Speed = &v
		}
		done <- result{pos: pos}
		return nil
	})
	onError := js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- result{err: &probe.PositionError{
			Code:    args[0].Get("code").Int(),
			Message: stringOf(args[0].Get("message")),
		}}
		return nil
	})

	options := map[string]any{
		"enableHighAccuracy": opts.EnableHighAccuracy,
		"maximumAge":         opts.MaximumAge.Milliseconds(),
	}
	if opts.Timeout > 0 {
		options["timeout"] = opts.Timeout.Milliseconds()
	}
	geolocation.Call("getCurrentPosition", onSuccess, onError, js.ValueOf(options))

	release := func() {
		onSuccess.Release()
		onError.Release()
	}
	select {
	case r := <-done:
		release()
		return r.pos, r.err
	case <-ctx.Done():
		go func() {
			<-done
			release()
		}()
		return probe.Position{}, ctx.Err()
	}
}

func (p *Platform) Performance(context.Context) (probe.Performance, error) {
	perf := p.window.Get("performance")
	if !perf.Truthy() || !perf.Get("timing").Truthy() {
		return probe.Performance{}, probe.ErrUnsupported
	}
	timing := perf.Get("timing")
	ms := func(end, start string) time.Duration {
		d := timing.Get(end).Float() - timing.Get(start).Float()
		if d < 0 {
			return 0
		}
		return time.Duration(d) * time.Millisecond
	}

	out := probe.Performance{
		PageLoad: ms("loadEventEnd", "navigationStart"),
		DOMReady: ms("domComplete", "domLoading"),
	}
	if navigation := perf.Get("navigation"); navigation.Truthy() {
		out.RedirectCount = intOf(navigation.Get("redirectCount"))
		out.NavigationType = intOf(navigation.Get("type"))
	}
	if memory := perf.Get("memory"); memory.Truthy() {
		out.UsedHeap = int64(floatOf(memory.Get("usedJSHeapSize")))
		out.TotalHeap = int64(floatOf(memory.Get("totalJSHeapSize")))
	}
	return out, nil
}

// await blocks until promise settles or ctx is done. It must not be called
// from a JavaScript callback.
func await(ctx context.Context, promise js.Value) (js.Value, error) {
	type settled struct {
		value js.Value
		err   error
	}
	done := make(chan settled, 1)

	onResolve := js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- settled{value: args[0]}
		return nil
	})
	onReject := js.FuncOf(func(this js.Value, args []js.Value) any {
		reason := "rejected"
		if len(args) > 0 && args[0].Truthy() {
			reason = args[0].Call("toString").String()
		}
		done <- settled{err: errors.New(reason)}
		return nil
	})
	promise.Call("then", onResolve, onReject)

	release := func() {
		onResolve.Release()
		onReject.Release()
	}
	select {
	case s := <-done:
		release()
		return s.value, s.err
	case <-ctx.Done():
		go func() {
			<-done
			release()
		}()
		return js.Undefined(), ctx.Err()
	}
}

// hasUserMedia reports camera and microphone capture, the part of WebRTC a
// page can detect without creating a connection.
func hasUserMedia(nav js.Value) bool {
	if !nav.Truthy() {
		return false
	}
	mediaDevices := nav.Get("mediaDevices")
	return mediaDevices.Truthy() && mediaDevices.Get("getUserMedia").Truthy()
}

func has(obj js.Value, name string) bool {
	return obj.Truthy() && js.Global().Get("Reflect").Call("has", obj, name).Bool()
}

func stringOf(v js.Value) string {
	if v.Type() != js.TypeString {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func intOf(v js.Value) int {
	if v.Type() != js.TypeNumber {
		return 0
	}
	return v.Int()
}

func floatOf(v js.Value) float64 {
	if v.Type() != js.TypeNumber {
		return 0
	}
	return v.Float()
}
