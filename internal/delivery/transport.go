package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// ErrNoBeacon is returned by transports with no beacon facility.
var ErrNoBeacon = errors.New("beacon unsupported")

// Transport moves an encoded record to the analytics endpoint.
//
// Beacon and Post are fire-and-forget: they return only errors that stop the
// dispatch from starting. Deliver waits for the endpoint and reports the
// outcome.
type Transport interface {
	Beacon(url string, body []byte) error
	Post(ctx context.Context, url string, body []byte) error
	Deliver(ctx context.Context, url string, body []byte) error
}

// StatusError is a non-2xx answer from the endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Permanent reports whether retrying cannot help.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests && e.Code != http.StatusRequestTimeout
}

// HTTPTransport sends records with a plain HTTP client. In-flight
// fire-and-forget requests are tracked so a process can Wait for them.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewHTTPTransport creates a transport over client. Fire-and-forget requests
// are bounded by timeout.
func NewHTTPTransport(client *http.Client, timeout time.Duration) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{client: client, timeout: timeout}
}

// Beacon posts body detached from any caller context, so it survives
// teardown of the page view that sent it.
func (t *HTTPTransport) Beacon(url string, body []byte) error {
	return t.dispatch(context.Background(), "beacon", url, body)
}

// Post posts body in the background. Cancelling ctx does not abort it.
func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte) error {
	return t.dispatch(context.WithoutCancel(ctx), "post", url, body)
}

func (t *HTTPTransport) dispatch(ctx context.Context, path, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	req, err := newRequest(ctx, url, body)
	if err != nil {
		cancel()
		return err
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		if err := t.do(req); err != nil {
			telemetry.GetLogger().WarnContext(ctx, "Analytics send failed",
				"path", path,
				"error", err)
		}
	}()
	return nil
}

// Deliver posts body and waits for a 2xx answer.
func (t *HTTPTransport) Deliver(ctx context.Context, url string, body []byte) error {
	req, err := newRequest(ctx, url, body)
	if err != nil {
		return err
	}
	return t.do(req)
}

// Wait blocks until every fire-and-forget request has finished.
func (t *HTTPTransport) Wait() {
	t.wg.Wait()
}

func (t *HTTPTransport) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func newRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
