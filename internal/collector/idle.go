package collector

import (
	"sync"
	"time"
)

// DefaultIdleThreshold is how long input must stop before the session is idle.
const DefaultIdleThreshold = 2 * time.Second

const (
	KindIdleStart = "idle-start"
	KindIdleEnd   = "idle-end"
)

// IdleDetector is a two-state (active/idle) machine driven by input
// activity and a trailing timer. The timer firing emits idle-start once per
// idle period; the next activity emits idle-end with the time spent idle,
// counted from the moment the threshold was crossed.
type IdleDetector struct {
	clock     Clock
	threshold time.Duration
	emit      func(kind string, payload map[string]any)

	mu         sync.Mutex
	started    bool
	stopped    bool
	idle       bool
	lastActive time.Time
	timer      Timer
	gen        uint64
}

// NewIdleDetector builds a detector in the active state. emit is never called
// with the detector's lock held.
func NewIdleDetector(clock Clock, threshold time.Duration, emit func(kind string, payload map[string]any)) *IdleDetector {
	return &IdleDetector{clock: clock, threshold: threshold, emit: emit}
}

// Activity records input and re-arms the inactivity timer.
func (d *IdleDetector) Activity() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()
	var ended map[string]any
	if d.started && (d.idle || now.Sub(d.lastActive) >= d.threshold) {
		idleSince := d.lastActive.Add(d.threshold)
		ended = map[string]any{
			"kind":       KindIdleEnd,
			"durationMs": max(now.Sub(idleSince), 0).Milliseconds(),
			"endedAt":    now.UnixMilli(),
		}
	}
	d.started = true
	d.idle = false
	d.lastActive = now
	d.arm()
	d.mu.Unlock()

	if ended != nil {
		d.emit(KindIdleEnd, ended)
	}
}

// arm must be called with mu held.
func (d *IdleDetector) arm() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.threshold, func() { d.fire(gen) })
}

func (d *IdleDetector) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || d.idle || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.idle = true
	startedAt := d.clock.Now()
	d.mu.Unlock()

	d.emit(KindIdleStart, map[string]any{
		"kind":      KindIdleStart,
		"startedAt": startedAt.UnixMilli(),
	})
}

// Idle reports whether the detector is in the idle state.
func (d *IdleDetector) Idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

// Stop disarms the timer; later activity is ignored.
func (d *IdleDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
