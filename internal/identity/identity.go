// Package identity keeps the visitor's durable identity: visitor id, visit
// counter, first visit and cached profile.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/storage"
)

const suffixLength = 9

// Store reads and writes identity keys in a storage.KV.
type Store struct {
	kv    storage.KV
	clock func() time.Time
}

// NewStore creates an identity store over kv.
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv, clock: time.Now}
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

// GetOrCreateVisitorID returns the persisted visitor id, creating and
// persisting one the first time it is asked for.
func (s *Store) GetOrCreateVisitorID(ctx context.Context) (string, error) {
	id, ok, err := s.kv.Get(ctx, storage.KeyVisitorID)
	if err != nil {
		return "", fmt.Errorf("read visitor id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = newID("visitor", s.now())
	if err := s.kv.Set(ctx, storage.KeyVisitorID, id); err != nil {
		return "", fmt.Errorf("persist visitor id: %w", err)
	}
	return id, nil
}

// NewSessionID returns a fresh session id. It is never persisted.
func (s *Store) NewSessionID() string {
	return newID("session", s.now())
}

// IncrementVisitCount bumps the stored visit counter and returns the new
// value. It is not idempotent: call it once per page view.
func (s *Store) IncrementVisitCount(ctx context.Context) (int, error) {
	raw, _, err := s.kv.Get(ctx, storage.KeyVisitCount)
	if err != nil {
		return 0, fmt.Errorf("read visit count: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || count < 0 {
		count = 0
	}
	count++
	if err := s.kv.Set(ctx, storage.KeyVisitCount, strconv.Itoa(count)); err != nil {
		return 0, fmt.Errorf("persist visit count: %w", err)
	}
	return count, nil
}

// EnsureFirstVisit returns the stored first-visit timestamp, recording the
// current time if none exists yet. Once written it never changes.
func (s *Store) EnsureFirstVisit(ctx context.Context) (string, error) {
	first, ok, err := s.kv.Get(ctx, storage.KeyFirstVisit)
	if err != nil {
		return "", fmt.Errorf("read first visit: %w", err)
	}
	if ok && first != "" {
		return first, nil
	}
	first = models.FormatTimestamp(s.now())
	if err := s.kv.Set(ctx, storage.KeyFirstVisit, first); err != nil {
		return "", fmt.Errorf("persist first visit: %w", err)
	}
	return first, nil
}

// Profile returns the cached visitor profile, if any.
func (s *Store) Profile(ctx context.Context) (models.VisitorProfile, bool, error) {
	raw, ok, err := s.kv.Get(ctx, storage.KeyVisitorProfile)
	if err != nil {
		return models.VisitorProfile{}, false, fmt.Errorf("read visitor profile: %w", err)
	}
	if !ok {
		return models.VisitorProfile{}, false, nil
	}
	var profile models.VisitorProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return models.VisitorProfile{}, false, fmt.Errorf("decode visitor profile: %w", err)
	}
	return profile, true, nil
}

// SaveProfile overwrites the cached visitor profile.
func (s *Store) SaveProfile(ctx context.Context, profile models.VisitorProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode visitor profile: %w", err)
	}
	if err := s.kv.Set(ctx, storage.KeyVisitorProfile, string(data)); err != nil {
		return fmt.Errorf("persist visitor profile: %w", err)
	}
	return nil
}

// newID builds "<prefix>_<unix millis>_<random suffix>".
func newID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}
