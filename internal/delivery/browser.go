//go:build js && wasm

package delivery

import (
	"context"
	"errors"
	"fmt"
	"syscall/js"
)

// BrowserTransport dispatches with navigator.sendBeacon and fetch.
type BrowserTransport struct{}

// NewBrowserTransport creates a transport over the page's globals.
func NewBrowserTransport() *BrowserTransport {
	return &BrowserTransport{}
}

// Beacon queues body with navigator.sendBeacon, which the browser completes
// even after the page is gone.
func (t *BrowserTransport) Beacon(url string, body []byte) (err error) {
	defer recoverJS(&err)

	navigator := js.Global().Get("navigator")
	if navigator.IsUndefined() || navigator.Get("sendBeacon").IsUndefined() {
		return ErrNoBeacon
	}
	blob := newJSONBlob(body)
	if !navigator.Call("sendBeacon", url, blob).Bool() {
		return errors.New("sendBeacon refused payload")
	}
	return nil
}

// Post starts a keepalive no-cors fetch and returns without waiting.
func (t *BrowserTransport) Post(_ context.Context, url string, body []byte) (err error) {
	defer recoverJS(&err)

	promise, err := startFetch(url, body)
	if err != nil {
		return err
	}

	var onError js.Func
	onError = js.FuncOf(func(this js.Value, args []js.Value) any {
		defer onError.Release()
		js.Global().Get("console").Call("error", "Analytics send failed:", args[0])
		return nil
	})
	promise.Call("catch", onError)
	return nil
}

// Deliver fetches and waits for the network to accept the request. With
// no-cors the response is opaque, so only network failures are observable.
func (t *BrowserTransport) Deliver(ctx context.Context, url string, body []byte) (err error) {
	defer recoverJS(&err)

	promise, err := startFetch(url, body)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	onResolve := js.FuncOf(func(this js.Value, args []js.Value) any {
		resp := args[0]
		if resp.Get("type").String() != "opaque" && !resp.Get("ok").Bool() {
			done <- &StatusError{Code: resp.Get("status").Int()}
			return nil
		}
		done <- nil
		return nil
	})
	onReject := js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- fmt.Errorf("fetch rejected: %s", args[0].Call("toString").String())
		return nil
	})
	promise.Call("then", onResolve, onReject)

	release := func() {
		onResolve.Release()
		onReject.Release()
	}
	select {
	case err = <-done:
		release()
		return err
	case <-ctx.Done():
		// Release only once the promise can no longer call back.
		go func() {
			<-done
			release()
		}()
		return ctx.Err()
	}
}

func startFetch(url string, body []byte) (js.Value, error) {
	fetch := js.Global().Get("fetch")
	if fetch.IsUndefined() {
		return js.Value{}, errors.New("fetch unsupported")
	}
	options := map[string]any{
		"method":    "POST",
		"mode":      "no-cors",
		"body":      string(body),
		"keepalive": true,
	}
	return fetch.Invoke(url, js.ValueOf(options)), nil
}

func newJSONBlob(body []byte) js.Value {
	parts := js.Global().Get("Array").New(string(body))
	return js.Global().Get("Blob").New(parts, js.ValueOf(map[string]any{"type": "application/json"}))
}

func recoverJS(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("javascript error: %v", r)
	}
}
