package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/pulsetrack/internal/analytics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockHTTPServer struct {
	listenErr error
	started   chan struct{}
	stop      chan struct{}
	shutdowns atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	if m.shutdowns.Add(1) == 1 {
		close(m.stop)
	}
	return nil
}

type mockWorker struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (w *mockWorker) Start() error {
	w.starts.Add(1)
	return w.startErr
}

func (w *mockWorker) Stop() { w.stops.Add(1) }

type recordingOrchestrator struct {
	mu     sync.Mutex
	inputs []analytics.RollupWorkflowInput
	err    error
	calls  chan struct{}
}

func newRecordingOrchestrator() *recordingOrchestrator {
	return &recordingOrchestrator{calls: make(chan struct{}, 16)}
}

func (o *recordingOrchestrator) RunRollup(_ context.Context, input analytics.RollupWorkflowInput) (analytics.RollupWorkflowResult, error) {
	return analytics.RollupWorkflowResult{}, errors.New("not used")
}

func (o *recordingOrchestrator) RunRollupAsync(_ context.Context, input analytics.RollupWorkflowInput) (string, error) {
	o.mu.Lock()
	o.inputs = append(o.inputs, input)
	o.mu.Unlock()
	select {
	case o.calls <- struct{}{}:
	default:
	}
	return "run-1", o.err
}

func (o *recordingOrchestrator) recorded() []analytics.RollupWorkflowInput {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]analytics.RollupWorkflowInput(nil), o.inputs...)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	waitFor(t, srv.started)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, int32(1), srv.shutdowns.Load())
	assert.Equal(t, "http-server", svc.String())
}

func TestHTTPServiceReportsListenFailure(t *testing.T) {
	srv := newMockHTTPServer()
	srv.listenErr = errors.New("address in use")

	err := NewHTTPService(srv, 0).Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestWorkerServiceStartsAndStops(t *testing.T) {
	w := &mockWorker{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWorkerService(w).Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), w.starts.Load())
	assert.Equal(t, int32(1), w.stops.Load())
}

func TestWorkerServiceStartFailure(t *testing.T) {
	w := &mockWorker{startErr: errors.New("no frontend")}

	err := NewWorkerService(w).Serve(context.Background())
	require.Error(t, err)
	assert.Zero(t, w.stops.Load())
}

func TestRollupSchedulerDispatchesImmediately(t *testing.T) {
	orch := newRecordingOrchestrator()
	s := NewRollupScheduler(orch, time.Hour, discardLogger())
	s.now = func() time.Time { return time.Date(2025, 1, 2, 0, 30, 0, 0, time.UTC) }
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	waitFor(t, orch.calls)
	cancel()
	<-done

	inputs := orch.recorded()
	require.Len(t, inputs, 1)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, inputs[0].Days)
	assert.Equal(t, "scheduled", inputs[0].Reason)
}

func TestRollupSchedulerKeepsRunningAfterDispatchError(t *testing.T) {
	orch := newRecordingOrchestrator()
	orch.err = errors.New("temporal unavailable")
	s := NewRollupScheduler(orch, 10*time.Millisecond, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	waitFor(t, orch.calls)
	waitFor(t, orch.calls)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, len(orch.recorded()), 2)
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree("pulsetrack-test", discardLogger(), TreeConfig{ShutdownTimeout: 2 * time.Second})
	srv := newMockHTTPServer()
	w := &mockWorker{}
	orch := newRecordingOrchestrator()
	tree.AddAPIService(NewHTTPService(srv, time.Second))
	tree.AddJobService(NewWorkerService(w))
	tree.AddJobService(NewRollupScheduler(orch, time.Hour, discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	waitFor(t, srv.started)
	waitFor(t, orch.calls)
	require.Eventually(t, func() bool { return w.starts.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdowns.Load())
	assert.Equal(t, int32(1), w.stops.Load())
	assert.Zero(t, tree.LogUnstopped(discardLogger()))
}
