package main

import (
	"flag"
	"io"
	"testing"
	"time"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.URL != "https://nexgenaitech.online/" {
		t.Fatalf("url = %q", cfg.URL)
	}
	if cfg.DBPath != "visitor-telemetry.db" || cfg.Dwell != 5*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.QueueCapacity != 50 {
		t.Fatalf("queue capacity = %d", cfg.QueueCapacity)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("VISITOR_TELEMETRY_ENDPOINT", "https://env.example/ingest")
	t.Setenv("VISITOR_TELEMETRY_DOMAIN", "example.org")

	cfg, err := ParseConfig(newFlagSet(), []string{
		"-endpoint", "https://flag.example/ingest",
		"-referrer", "https://www.google.com/",
		"-db", t.TempDir() + "/agent.db",
		"-dwell", "0s",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Endpoint != "https://flag.example/ingest" {
		t.Fatalf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.URL != "https://example.org/" {
		t.Fatalf("url = %q, want derived from the env domain", cfg.URL)
	}
	if cfg.Referrer != "https://www.google.com/" || cfg.Dwell != 0 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"relative url", []string{"-url", "/pricing"}},
		{"empty db", []string{"-db", ""}},
		{"negative dwell", []string{"-dwell", "-1s"}},
		{"zero queue", []string{"-queue-capacity", "0"}},
		{"unknown flag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig(newFlagSet(), tt.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseConfigEnvError(t *testing.T) {
	t.Setenv("VISITOR_TELEMETRY_FLUSH_INTERVAL", "soon")
	if _, err := ParseConfig(newFlagSet(), nil); err == nil {
		t.Fatal("expected env parse error")
	}
}
