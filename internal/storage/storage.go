// Package storage defines the durable key/value space the pipeline persists
// visitor state in. Keys and values are plain strings, matching what a
// browser's localStorage offers.
package storage

import (
	"context"
	"sync"
)

// Keys of the durable key space.
const (
	KeyFirstVisit     = "firstVisit"
	KeyGeoPermission  = "geoPermission"
	KeyVisitorID      = "visitor_id"
	KeyVisitCount     = "visit_count"
	KeyVisitorProfile = "visitor_profile"
	KeyAnalyticsQueue = "analytics_queue"
)

// Geolocation permission values stored under KeyGeoPermission.
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// KV is a durable string key/value store. Reads and writes carry no
// transactional guarantee.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Memory is an in-process KV, used for tests and as a last resort when no
// durable store is reachable.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
