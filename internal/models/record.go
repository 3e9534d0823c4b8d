package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Sentinel values stand in for data a probe could not produce, so every
// field of a record is always present.
const (
	Unsupported      = "unsupported"
	Unavailable      = "unavailable"
	PermissionDenied = "permission_denied"
	Unknown          = "unknown"
)

// GeolocationError returns the sentinel for a failed position request.
func GeolocationError(code int) string {
	return fmt.Sprintf("geolocation_error_%d", code)
}

// Record types carried in the "type" field of secondary records.
const (
	TypeEngagement  = "engagement"
	TypePerformance = "performance"
)

// Record is one flat telemetry record: field name to value.
type Record map[string]any

// Flatten returns a copy of the record where every nested value (struct, map,
// slice, pointer) is replaced by its JSON encoding, ready for transport.
func (r Record) Flatten() (Record, error) {
	flat := make(Record, len(r))
	for key, value := range r {
		if isScalar(value) {
			flat[key] = value
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("flatten %q: %w", key, err)
		}
		flat[key] = string(encoded)
	}
	return flat, nil
}

// Encode flattens the record and marshals it to JSON.
func (r Record) Encode() ([]byte, error) {
	flat, err := r.Flatten()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return body, nil
}

func isScalar(value any) bool {
	switch value.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// FormatTimestamp renders t the way browsers render Date.toISOString.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
