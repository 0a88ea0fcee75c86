package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Input names handled by a Collector.
const (
	InputMouseMove  = "mousemove"
	InputClick      = "click"
	InputScroll     = "scroll"
	InputKeyDown    = "keydown"
	InputKeyUp      = "keyup"
	InputTouchStart = "touchstart"
	InputTouchEnd   = "touchend"
	InputError      = "error"
)

// DefaultMoveThrottle is the minimum spacing of pointer-move events.
const DefaultMoveThrottle = 200 * time.Millisecond

// Probes detect optional client features. Each runs once, asynchronously,
// after Start.
type Probes struct {
	CSS    func(ctx context.Context) bool
	Images func(ctx context.Context) bool
}

// Environment is the host snapshot reported by Load.
type Environment struct {
	UserAgent     string
	Language      string
	Cookies       bool
	CSSEnabled    bool
	ImagesEnabled bool
	ScreenW       int
	ScreenH       int
	WindowW       int
	WindowH       int
	Connection    string
}

// NavigationTiming is the page-load timing snapshot reported by Load, in
// milliseconds.
type NavigationTiming struct {
	Start  float64
	End    float64
	Detail map[string]any
}

// Options configures a Collector. Zero values select the defaults.
type Options struct {
	Page     string
	Referrer string

	// Storage holds the durable queue; SessionStorage holds the session id.
	Storage        Storage
	SessionStorage Storage

	Sender Sender
	Beacon Beaconer

	Clock  Clock
	Probes Probes
	Logger *slog.Logger

	FlushInterval      time.Duration
	BatchSize          int
	LifecycleBatchSize int
	// MaxEvents bounds the queue; negative disables the bound.
	MaxEvents     int
	IdleThreshold time.Duration
	MoveThrottle  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Storage == nil {
		o.Storage = NewMemoryStorage()
	}
	if o.SessionStorage == nil {
		o.SessionStorage = NewMemoryStorage()
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.LifecycleBatchSize <= 0 {
		o.LifecycleBatchSize = DefaultLifecycleBatchSize
	}
	if o.MaxEvents == 0 {
		o.MaxEvents = DefaultMaxEvents
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = DefaultIdleThreshold
	}
	if o.MoveThrottle <= 0 {
		o.MoveThrottle = DefaultMoveThrottle
	}
}

// Collector wires producers, the idle detector, the queue and the delivery
// engine for one page session.
type Collector struct {
	opts      Options
	sessionID string
	queue     *Queue
	engine    *Engine
	idle      *IdleDetector
	registry  *Registry
	logger    *slog.Logger

	mu       sync.Mutex
	lastMove time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// New builds a Collector. Sender and Beacon are required.
func New(opts Options) (*Collector, error) {
	opts.applyDefaults()
	if opts.Sender == nil || opts.Beacon == nil {
		return nil, errors.New("collector: sender and beacon are required")
	}
	sid, err := SessionID(opts.SessionStorage)
	if err != nil {
		return nil, fmt.Errorf("collector: %w", err)
	}

	c := &Collector{
		opts:      opts,
		sessionID: sid,
		logger:    opts.Logger.With("component", "collector", "session_id", sid),
	}
	c.queue = NewQueue(opts.Storage, opts.MaxEvents, c.logger)
	c.engine = NewEngine(c.queue, opts.Sender, opts.Beacon, c.logger)
	c.idle = NewIdleDetector(opts.Clock, opts.IdleThreshold, func(_ string, payload map[string]any) {
		c.Track(TypeActivity, payload)
	})
	c.registry = NewRegistry(c.logger)
	c.registerInputs()
	return c, nil
}

// SessionID returns the identifier stamped on every event.
func (c *Collector) SessionID() string { return c.sessionID }

// Queue exposes the underlying queue.
func (c *Collector) Queue() *Queue { return c.queue }

// Engine exposes the delivery engine.
func (c *Collector) Engine() *Engine { return c.engine }

// Registry exposes the input dispatch table so hosts can add handlers.
func (c *Collector) Registry() *Registry { return c.registry }

// Track enqueues one event. Failures are logged, never returned: producers
// must not be affected by the analytics pipeline.
func (c *Collector) Track(eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := Event{
		EventID:   uuid.NewString(),
		SessionID: c.sessionID,
		Type:      eventType,
		TS:        c.opts.Clock.Now().UnixMilli(),
		Page:      c.opts.Page,
		Payload:   payload,
	}
	if err := c.queue.Enqueue(ev); err != nil {
		c.logger.Warn("enqueue event failed", "type", eventType, "error", err)
	}
}

// Start emits page-enter, arms the idle detector, launches the feature
// probes and starts the periodic flush loop.
func (c *Collector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.Track(TypeActivity, map[string]any{"kind": "page-enter", "href": c.opts.Page, "referrer": c.opts.Referrer})
	c.idle.Activity()

	if probe := c.opts.Probes.CSS; probe != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Track(TypeStatic, map[string]any{"featureProbe": "css/js", "cssEnabled": probe(ctx), "jsEnabled": true})
		}()
	}
	if probe := c.opts.Probes.Images; probe != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Track(TypeStatic, map[string]any{"featureProbe": "images", "imagesEnabled": probe(ctx)})
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.engine.Run(ctx, c.opts.FlushInterval, c.opts.BatchSize)
	}()
}

// Dispatch feeds one named input through the registry.
func (c *Collector) Dispatch(name string, in Input) {
	if c.registry.Dispatch(name, in) == 0 {
		c.logger.Debug("no handler for input", "input", name)
	}
}

// Load records the environment and navigation timing snapshots.
func (c *Collector) Load(env Environment, timing NavigationTiming) {
	c.Track(TypeStatic, map[string]any{
		"ua":            env.UserAgent,
		"lang":          env.Language,
		"cookies":       env.Cookies,
		"jsEnabled":     true,
		"cssEnabled":    env.CSSEnabled,
		"imagesEnabled": env.ImagesEnabled,
		"screen":        map[string]any{"w": env.ScreenW, "h": env.ScreenH},
		"window":        map[string]any{"w": env.WindowW, "h": env.WindowH},
		"connection":    env.Connection,
	})
	detail := timing.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	c.Track(TypePerf, map[string]any{
		"start":  timing.Start,
		"end":    timing.End,
		"total":  timing.End - timing.Start,
		"timing": detail,
	})
}

// Hide flushes a lifecycle batch; the host may not come back.
func (c *Collector) Hide(ctx context.Context) FlushResult {
	res, err := c.engine.Flush(ctx, c.opts.LifecycleBatchSize, ModeLifecycle)
	if err != nil {
		c.logger.Warn("lifecycle flush failed", "error", err)
	}
	return res
}

// Unload emits page-leave, flushes a lifecycle batch and closes the collector.
func (c *Collector) Unload(ctx context.Context) FlushResult {
	c.Track(TypeActivity, map[string]any{"kind": "page-leave", "href": c.opts.Page})
	res := c.Hide(ctx)
	if err := c.Close(ctx); err != nil {
		c.logger.Warn("close collector", "error", err)
	}
	return res
}

// Close stops the flush loop and the idle detector and waits for probes.
// Events still queued stay in storage for the next session.
func (c *Collector) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.idle.Stop()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Collector) registerInputs() {
	bump := func(Input) { c.idle.Activity() }
	for _, name := range []string{InputMouseMove, InputClick, InputScroll, InputKeyDown, InputKeyUp, InputTouchStart, InputTouchEnd} {
		c.registry.On(name, bump)
	}

	c.registry.On(InputMouseMove, func(in Input) {
		now := c.opts.Clock.Now()
		c.mu.Lock()
		if !c.lastMove.IsZero() && now.Sub(c.lastMove) < c.opts.MoveThrottle {
			c.mu.Unlock()
			return
		}
		c.lastMove = now
		c.mu.Unlock()
		c.Track(TypeActivity, map[string]any{"kind": "mouse", "type": "move", "x": in.X, "y": in.Y})
	})
	c.registry.On(InputClick, func(in Input) {
		c.Track(TypeActivity, map[string]any{"kind": "mouse", "type": "click", "x": in.X, "y": in.Y, "button": in.Button})
	})
	c.registry.On(InputScroll, func(in Input) {
		c.Track(TypeActivity, map[string]any{"kind": "scroll", "scrollX": in.ScrollX, "scrollY": in.ScrollY})
	})
	c.registry.On(InputKeyDown, func(in Input) {
		c.Track(TypeActivity, map[string]any{"kind": "key", "type": "down", "key": in.Key})
	})
	c.registry.On(InputKeyUp, func(in Input) {
		c.Track(TypeActivity, map[string]any{"kind": "key", "type": "up", "key": in.Key})
	})
	c.registry.On(InputError, func(in Input) {
		c.Track(TypeActivity, map[string]any{
			"kind":  "error",
			"msg":   in.Message,
			"src":   in.Source,
			"line":  in.Line,
			"col":   in.Col,
			"stack": in.Stack,
		})
	})
}
