package storage

import (
	"context"
	"testing"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	if _, ok, err := kv.Get(ctx, KeyVisitorID); err != nil || ok {
		t.Fatalf("Get on empty store = ok %v, err %v", ok, err)
	}
	if err := kv.Set(ctx, KeyVisitorID, "visitor_1_abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := kv.Get(ctx, KeyVisitorID)
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if value != "visitor_1_abc" {
		t.Errorf("value = %q", value)
	}
	if err := kv.Set(ctx, KeyVisitorID, "other"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if kv.Len() != 1 {
		t.Errorf("Len = %d, want 1", kv.Len())
	}
}
