package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"example.com/pulsetrack/internal/metrics"
)

// Sender delivers one event and reports whether the server accepted it.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// Beaconer hands an event off without waiting for the outcome. It returns
// false only when the hand-off is rejected on the spot.
type Beaconer interface {
	Beacon(ev Event) bool
}

// DeliveryError reports a failed Send: a non-2xx status or a transport error.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return "deliver event: " + e.Err.Error()
	}
	return fmt.Sprintf("deliver event: unexpected status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TransportOptions tunes the HTTP transport.
type TransportOptions struct {
	Timeout          time.Duration
	BeaconBuffer     int
	BreakerTimeout   time.Duration
	BreakerThreshold uint32
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.BeaconBuffer <= 0 {
		o.BeaconBuffer = 64
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 5
	}
	return o
}

// HTTPTransport posts events as JSON to the ingestion endpoint. Send blocks
// for the response; Beacon queues the post on a background goroutine.
// Both go through a circuit breaker so a dead endpoint fails fast.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *slog.Logger

	mu      sync.RWMutex
	closed  bool
	beacons chan Event
	done    chan struct{}
}

// NewHTTPTransport configures a transport posting to endpoint.
func NewHTTPTransport(endpoint string, opts TransportOptions, logger *slog.Logger) *HTTPTransport {
	opts = opts.withDefaults()
	t := &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: opts.Timeout},
		logger:   logger,
		beacons:  make(chan Event, opts.BeaconBuffer),
		done:     make(chan struct{}),
	}
	threshold := opts.BreakerThreshold
	t.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "collector-transport",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < threshold {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errAbandoned)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	go t.beaconLoop()
	return t
}

// errAbandoned marks a delivery cut short because the caller's context
// ended. The breaker does not count it as an endpoint failure.
var errAbandoned = errors.New("delivery abandoned")

// Send posts ev and waits for a 2xx response.
func (t *HTTPTransport) Send(ctx context.Context, ev Event) error {
	_, err := t.breaker.Execute(func() (struct{}, error) {
		err := t.post(ctx, ev)
		if err != nil && ctx.Err() != nil {
			return struct{}{}, &DeliveryError{Err: fmt.Errorf("%w: %w", errAbandoned, ctx.Err())}
		}
		return struct{}{}, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &DeliveryError{Err: err}
	}
	return err
}

// Beacon queues ev for background delivery. The outcome of an accepted
// beacon is never reported back. Beacons are rejected while the breaker is
// open, which only endpoint failures can cause.
func (t *HTTPTransport) Beacon(ev Event) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed || t.breaker.State() == gobreaker.StateOpen {
		return false
	}
	select {
	case t.beacons <- ev:
		return true
	default:
		return false
	}
}

func (t *HTTPTransport) beaconLoop() {
	defer close(t.done)
	for ev := range t.beacons {
		ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout)
		if err := t.Send(ctx, ev); err != nil {
			t.logger.Debug("beacon delivery lost", "session_id", ev.SessionID, "type", ev.Type, "error", err)
		}
		cancel()
	}
}

// Close stops accepting beacons and waits for queued ones until ctx ends.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.beacons)
	}
	t.mu.Unlock()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *HTTPTransport) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}
