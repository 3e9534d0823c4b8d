// Command server hosts the tracker page and its WebAssembly bundle.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

const serviceName = "visitor-telemetry-server"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// Server metrics
var (
	requestCounter   = telemetry.Counter("http_requests_total", "Total number of HTTP requests")
	healthCheckCount = telemetry.Counter("health_checks_total", "Total number of health check requests")
	requestDuration  metric.Float64Histogram
)

func init() {
	var err error
	requestDuration, err = telemetry.GetMeter().Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		log.Fatal("Failed to create request duration histogram:", err)
	}
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tracer := telemetry.GetTracer()
	ctx, span := tracer.Start(ctx, "health_check")
	defer span.End()

	logger := telemetry.GetLogger()
	logger.DebugContext(ctx, "Health check requested",
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent())

	healthCheckCount.Add(ctx, 1)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   telemetry.ServiceName(),
	}

	span.SetAttributes(
		attribute.String("health.status", health.Status),
		attribute.String("health.service", health.Service),
	)

	if err := json.NewEncoder(w).Encode(health); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to encode health response")
		logger.ErrorContext(ctx, "Failed to encode health response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// corsMiddleware adds CORS headers for WebAssembly
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			telemetry.GetLogger().InfoContext(r.Context(), "CORS preflight request",
				"path", r.URL.Path,
				"origin", r.Header.Get("Origin"))
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware counts requests and records their duration per route.
func metricsMiddleware(route string, next http.Handler) http.Handler {
	attrs := metric.WithAttributes(attribute.String("http.route", route))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		requestCounter.Add(r.Context(), 1, attrs)
		requestDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

// indexHandler serves the tracker page for the site root only.
func indexHandler(webDir string) http.Handler {
	index := filepath.Join(webDir, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, span := telemetry.GetTracer().Start(r.Context(), "serve_index")
		defer span.End()
		span.SetAttributes(
			attribute.String("http.route", "/"),
			attribute.String("file.path", index),
		)
		http.ServeFile(w, r.WithContext(ctx), index)
	})
}

// newMux routes the page, the static bundle under /web/ and the health check.
func newMux(webDir string) *http.ServeMux {
	handle := func(mux *http.ServeMux, pattern, route string, h http.Handler) {
		mux.Handle(pattern, otelhttp.NewHandler(metricsMiddleware(route, h), route))
	}

	mux := http.NewServeMux()
	handle(mux, "/", "GET /", indexHandler(webDir))
	handle(mux, "/health", "GET /health", http.HandlerFunc(healthCheckHandler))

	fileServer := http.FileServer(http.Dir(webDir))
	handle(mux, "/web/", "GET /web/*", corsMiddleware(http.StripPrefix("/web/", fileServer)))
	return mux
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	webDir := flag.String("web", "web", "Directory holding index.html, tracker.wasm and wasm_exec.js")
	flag.Parse()

	cleanup := telemetry.SetupInstrumentation(serviceName)
	defer cleanup()

	logger := telemetry.GetLogger()
	logger.Info("Visitor telemetry server starting", "addr", *addr, "web", *webDir)
	fmt.Printf("Serving %s on http://localhost%s (health: /health)\n", *webDir, *addr)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(*webDir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Fatal(srv.ListenAndServe())
}
