package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualClock only moves when Advance is called; timers due by then fire
// synchronously on the caller's goroutine.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, pending []*manualTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// recordingTransport implements Sender and Beaconer with scripted outcomes.
type recordingTransport struct {
	mu       sync.Mutex
	sent     []Event
	beaconed []Event
	failIDs  map[string]bool
	beaconOK func(n int) bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{failIDs: map[string]bool{}}
}

func (r *recordingTransport) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ev)
	if r.failIDs[ev.EventID] {
		return &DeliveryError{StatusCode: 500}
	}
	return nil
}

func (r *recordingTransport) Beacon(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.beaconed)
	if r.beaconOK != nil && !r.beaconOK(n) {
		return false
	}
	r.beaconed = append(r.beaconed, ev)
	return true
}

func (r *recordingTransport) sentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ids(r.sent)
}

func ids(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventID)
	}
	return out
}

// failingStorage fails every Save after the first n.
type failingStorage struct {
	*MemoryStorage
	saves int
	after int
}

func (s *failingStorage) Save(key string, value []byte) error {
	s.saves++
	if s.saves > s.after {
		return errors.New("disk full")
	}
	return s.MemoryStorage.Save(key, value)
}
