// Package httpclient builds the outbound HTTP client shared by the IP lookup
// probe and the delivery transport.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"

	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// New returns an HTTP/2-capable client whose requests are traced with
// otelhttp. A zero timeout means no client-level timeout.
//
// No dialer is set on the transport: under js/wasm that keeps requests on
// the browser's fetch API.
func New(timeout time.Duration) *http.Client {
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureTransport(base); err != nil {
		telemetry.GetLogger().Warn("HTTP/2 unavailable, using HTTP/1.1", "error", err)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(base,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Host
			}),
		),
	}
}
