//go:build js && wasm

package main

import (
	"context"
	"fmt"
	"syscall/js"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/config"
	"github.com/nathannam/visitor-telemetry/internal/delivery"
	"github.com/nathannam/visitor-telemetry/internal/httpclient"
	"github.com/nathannam/visitor-telemetry/internal/input"
	"github.com/nathannam/visitor-telemetry/internal/pipeline"
	"github.com/nathannam/visitor-telemetry/internal/platform/browser"
	"github.com/nathannam/visitor-telemetry/internal/storage"
	"github.com/nathannam/visitor-telemetry/internal/storage/localstorage"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

var trackerStartTime time.Time

// logTrackerEvent logs a lifecycle event to the browser console
func logTrackerEvent(eventType, data string) {
	js.Global().Get("console").Call("debug",
		fmt.Sprintf("[TRACKER_EVENT] %s - %s", eventType, data))
}

// loadConfig applies the overrides a page may set on
// window.visitorTelemetryConfig before the module loads.
func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		telemetry.GetLogger().Error("Invalid configuration, using defaults", "error", err)
		cfg = config.Defaults()
	}

	overrides := js.Global().Get("visitorTelemetryConfig")
	if !overrides.Truthy() {
		return cfg
	}
	for key, field := range map[string]*string{
		"endpoint": &cfg.Endpoint,
		"domain":   &cfg.Domain,
	} {
		if v := overrides.Get(key); v.Type() == js.TypeString && v.String() != "" {
			*field = v.String()
			logTrackerEvent("config_override", key)
		}
	}
	return cfg
}

func main() {
	trackerStartTime = time.Now()
	cleanup := telemetry.SetupInstrumentation("visitor-telemetry-tracker")
	defer cleanup()

	logTrackerEvent("tracker_start", "WebAssembly initialization")
	cfg := loadConfig()

	var kv storage.KV = storage.NewMemory()
	if store, err := localstorage.New(); err != nil {
		telemetry.GetLogger().Warn("localStorage unavailable, state will not persist", "error", err)
	} else {
		kv = store
	}

	p := pipeline.New(cfg, pipeline.Deps{
		Platform:  browser.New(),
		KV:        kv,
		Transport: delivery.NewBrowserTransport(),
		Client:    httpclient.New(cfg.HTTPTimeout),
	})

	ctx := context.Background()
	pv, tracker := p.Start(ctx)
	logTrackerEvent("page_view_started", pv.SessionID)

	inputHandler := input.New(tracker)
	inputHandler.SetupEventListeners(ctx)
	defer inputHandler.Cleanup()

	logTrackerEvent("initialization_complete",
		fmt.Sprintf("Total initialization time: %v", time.Since(trackerStartTime)))

	// Keep the program running for the life of the page
	done := make(chan bool)
	<-done
}
