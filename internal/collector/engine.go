package collector

import (
	"context"
	"log/slog"
	"time"

	"example.com/pulsetrack/internal/metrics"
)

// Mode selects how a flush hands events to the transport.
type Mode int

const (
	// ModeNormal sends each event and waits for the response.
	ModeNormal Mode = iota
	// ModeLifecycle beacons events because the host may exit at any moment.
	ModeLifecycle
)

func (m Mode) String() string {
	if m == ModeLifecycle {
		return "lifecycle"
	}
	return "normal"
}

const (
	DefaultFlushInterval      = 5 * time.Second
	DefaultBatchSize          = 25
	DefaultLifecycleBatchSize = 50
)

// FlushResult summarizes one flush.
type FlushResult struct {
	Attempted int
	Delivered int
	Requeued  int
}

// Engine drains the queue into the transport.
type Engine struct {
	queue  *Queue
	sender Sender
	beacon Beaconer
	logger *slog.Logger
}

func NewEngine(queue *Queue, sender Sender, beacon Beaconer, logger *slog.Logger) *Engine {
	return &Engine{queue: queue, sender: sender, beacon: beacon, logger: logger}
}

// Flush takes up to batchSize events off the head of the queue and delivers
// them one by one. Events that were not delivered (normal mode) or not
// accepted by the beacon (lifecycle mode) are put back at the head in their
// original order. The batch is removed before any delivery starts, so a
// concurrent flush never sends the same event. An empty queue issues no
// request. The returned error only reports queue storage failures.
func (e *Engine) Flush(ctx context.Context, batchSize int, mode Mode) (FlushResult, error) {
	batch, err := e.queue.Take(batchSize)
	if err != nil {
		return FlushResult{}, err
	}
	if len(batch) == 0 {
		return FlushResult{}, nil
	}

	result := FlushResult{Attempted: len(batch)}
	var failed []Event
	for _, ev := range batch {
		if e.deliver(ctx, ev, mode) {
			result.Delivered++
			continue
		}
		failed = append(failed, ev)
	}

	result.Requeued = len(failed)
	metrics.CollectorDeliveries.WithLabelValues(mode.String(), "delivered").Add(float64(result.Delivered))
	metrics.CollectorDeliveries.WithLabelValues(mode.String(), "requeued").Add(float64(result.Requeued))
	if err := e.queue.RequeueFront(failed); err != nil {
		e.logger.Error("requeue failed events", "count", len(failed), "error", err)
		return result, err
	}
	if len(failed) > 0 {
		e.logger.Debug("flush incomplete", "mode", mode.String(), "attempted", result.Attempted, "requeued", result.Requeued)
	}
	return result, nil
}

func (e *Engine) deliver(ctx context.Context, ev Event, mode Mode) bool {
	if mode == ModeLifecycle {
		return e.beacon.Beacon(ev)
	}
	if err := e.sender.Send(ctx, ev); err != nil {
		e.logger.Debug("event delivery failed", "type", ev.Type, "event_id", ev.EventID, "error", err)
		return false
	}
	return true
}

// Run flushes batchSize events every interval in normal mode until ctx ends.
func (e *Engine) Run(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Flush(ctx, batchSize, ModeNormal); err != nil {
				e.logger.Warn("periodic flush failed", "error", err)
			}
		}
	}
}
