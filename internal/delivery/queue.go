package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/storage"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

// DefaultQueueCapacity bounds the retry queue.
const DefaultQueueCapacity = 50

// Queue is the bounded FIFO of records that could not be dispatched,
// persisted as a JSON array under storage.KeyAnalyticsQueue. When full, the
// oldest entries are evicted.
type Queue struct {
	kv       storage.KV
	capacity int
	clock    func() time.Time

	mu sync.Mutex
}

// NewQueue creates a queue over kv. A non-positive capacity means
// DefaultQueueCapacity.
func NewQueue(kv storage.KV, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{kv: kv, capacity: capacity, clock: time.Now}
}

// Push appends record with a retry count of zero.
func (q *Queue) Push(ctx context.Context, record models.Record) error {
	return q.Append(ctx, models.QueueEntry{
		Payload:    record,
		EnqueuedAt: q.clock().UTC(),
	})
}

// Append adds entries at the tail, evicting from the head past capacity.
func (q *Queue) Append(ctx context.Context, entries ...models.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue, err := q.load(ctx)
	if err != nil {
		return err
	}
	queue = append(queue, entries...)
	if len(queue) > q.capacity {
		queue = queue[len(queue)-q.capacity:]
	}
	return q.store(ctx, queue)
}

// Entries returns the queued entries, oldest first.
func (q *Queue) Entries(ctx context.Context) ([]models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.Entries(ctx)
	return len(entries), err
}

// Resolve settles one entry previously read with Entries. A nil next
// removes it; otherwise next replaces it in place, keeping its position.
// It reports false when the entry is no longer queued, e.g. evicted while it
// was being delivered.
func (q *Queue) Resolve(ctx context.Context, entry models.QueueEntry, next *models.QueueEntry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	want, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode entry: %w", err)
	}
	for i := range queue {
		got, err := json.Marshal(queue[i])
		if err != nil || !bytes.Equal(got, want) {
			continue
		}
		if next == nil {
			queue = append(queue[:i], queue[i+1:]...)
		} else {
			queue[i] = *next
		}
		return true, q.store(ctx, queue)
	}
	return false, nil
}

func (q *Queue) load(ctx context.Context) ([]models.QueueEntry, error) {
	raw, ok, err := q.kv.Get(ctx, storage.KeyAnalyticsQueue)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var queue []models.QueueEntry
	if err := json.Unmarshal([]byte(raw), &queue); err != nil {
		telemetry.GetLogger().WarnContext(ctx, "Discarding corrupt retry queue", "error", err)
		return nil, nil
	}
	return queue, nil
}

func (q *Queue) store(ctx context.Context, queue []models.QueueEntry) error {
	if queue == nil {
		queue = []models.QueueEntry{}
	}
	data, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.kv.Set(ctx, storage.KeyAnalyticsQueue, string(data)); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}
