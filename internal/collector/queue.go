package collector

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"example.com/pulsetrack/internal/metrics"
)

const (
	// QueueKey is the durable slot holding the pending events.
	QueueKey = "analytics-buffer"
	// CorruptSuffix names the slot that keeps the bytes of an unreadable queue.
	CorruptSuffix = ".corrupt"
	// DefaultMaxEvents bounds the queue; the oldest events are dropped first.
	DefaultMaxEvents = 10000
)

// Queue is a FIFO of events persisted under one storage slot. Every
// operation loads, mutates and saves the whole slot while holding the
// queue lock, so callers never observe a partial update and a crash after
// any call returns leaves storage consistent.
type Queue struct {
	mu        sync.Mutex
	storage   Storage
	key       string
	maxEvents int
	logger    *slog.Logger
}

// NewQueue wraps storage. maxEvents <= 0 leaves the queue unbounded.
func NewQueue(storage Storage, maxEvents int, logger *slog.Logger) *Queue {
	return &Queue{storage: storage, key: QueueKey, maxEvents: maxEvents, logger: logger}
}

func (q *Queue) load() ([]Event, error) {
	raw, err := q.storage.Load(q.key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, q.quarantine(raw, err)
	}
	return events, nil
}

// quarantine moves an unreadable slot aside and resets the queue to empty.
// A failed backup is returned and the slot is left untouched.
func (q *Queue) quarantine(raw []byte, cause error) error {
	backup := q.key + CorruptSuffix
	if err := q.storage.Save(backup, raw); err != nil {
		return fmt.Errorf("back up unreadable queue slot: %w", err)
	}
	metrics.CollectorCorruptSlots.Inc()
	q.logger.Error("unreadable queue slot moved aside", "key", q.key, "backup", backup, "bytes", len(raw), "error", cause)
	return q.save(nil)
}

func (q *Queue) save(events []Event) error {
	if events == nil {
		events = []Event{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.storage.Save(q.key, raw); err != nil {
		return err
	}
	metrics.CollectorQueueDepth.Set(float64(len(events)))
	return nil
}

// Enqueue appends ev and persists the queue before returning.
func (q *Queue) Enqueue(ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	events, err := q.load()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	events = append(events, ev)
	if q.maxEvents > 0 && len(events) > q.maxEvents {
		dropped := len(events) - q.maxEvents
		events = events[dropped:]
		metrics.CollectorDropped.Add(float64(dropped))
		q.logger.Warn("queue full, dropped oldest events", "dropped", dropped, "max_events", q.maxEvents)
	}
	if err := q.save(events); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// PeekBatch returns up to n events from the head without removing them.
func (q *Queue) PeekBatch(n int) ([]Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events, err := q.load()
	if err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}
	return head(events, n), nil
}

// RemovePrefix drops the first n events.
func (q *Queue) RemovePrefix(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	events, err := q.load()
	if err != nil {
		return fmt.Errorf("remove prefix: %w", err)
	}
	if n > len(events) {
		n = len(events)
	}
	if err := q.save(events[n:]); err != nil {
		return fmt.Errorf("remove prefix: %w", err)
	}
	return nil
}

// Take removes and returns up to n events from the head in one step.
func (q *Queue) Take(n int) ([]Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events, err := q.load()
	if err != nil {
		return nil, fmt.Errorf("take: %w", err)
	}
	batch := head(events, n)
	if len(batch) == 0 {
		return nil, nil
	}
	if err := q.save(events[len(batch):]); err != nil {
		return nil, fmt.Errorf("take: %w", err)
	}
	return batch, nil
}

// RequeueFront puts events back at the head, ahead of anything enqueued
// since they were taken, keeping their relative order.
func (q *Queue) RequeueFront(failed []Event) error {
	if len(failed) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	events, err := q.load()
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	merged := make([]Event, 0, len(failed)+len(events))
	merged = append(merged, failed...)
	merged = append(merged, events...)
	if err := q.save(merged); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// Len reports the number of queued events.
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func head(events []Event, n int) []Event {
	if n <= 0 || len(events) == 0 {
		return nil
	}
	if n > len(events) {
		n = len(events)
	}
	out := make([]Event, n)
	copy(out, events[:n])
	return out
}
