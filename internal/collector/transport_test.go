package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestStub struct {
	status atomic.Int32
	hits   atomic.Int32

	mu       sync.Mutex
	received []Event
}

func newIngestStub(t *testing.T, status int) (*ingestStub, *httptest.Server) {
	t.Helper()
	stub := &ingestStub{}
	stub.status.Store(int32(status))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		stub.mu.Lock()
		stub.received = append(stub.received, ev)
		stub.mu.Unlock()
		w.WriteHeader(int(stub.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *ingestStub) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.received...)
}

func newTestTransport(t *testing.T, url string) *HTTPTransport {
	t.Helper()
	tr := NewHTTPTransport(url, TransportOptions{Timeout: 2 * time.Second, BreakerTimeout: time.Minute}, discardLogger())
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func TestSendDeliversJSON(t *testing.T) {
	stub, srv := newIngestStub(t, http.StatusCreated)
	tr := newTestTransport(t, srv.URL)

	err := tr.Send(context.Background(), Event{EventID: "e1", SessionID: "s1", Type: TypePerf, TS: 42, Payload: map[string]any{"total": 12.5}})
	require.NoError(t, err)

	received := stub.events()
	require.Len(t, received, 1)
	got := received[0]
	assert.Equal(t, "e1", got.EventID)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, int64(42), got.TS)
	assert.Equal(t, 12.5, got.Payload["total"])
}

func TestSendReportsNon2xx(t *testing.T) {
	_, srv := newIngestStub(t, http.StatusInternalServerError)
	tr := newTestTransport(t, srv.URL)

	err := tr.Send(context.Background(), Event{EventID: "e1", Type: TypeStatic})

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusInternalServerError, de.StatusCode)
}

func TestSendReportsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	tr := newTestTransport(t, url)

	err := tr.Send(context.Background(), Event{EventID: "e1", Type: TypeStatic})

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Zero(t, de.StatusCode)
	assert.Error(t, de.Err)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	stub, srv := newIngestStub(t, http.StatusServiceUnavailable)
	tr := newTestTransport(t, srv.URL)

	for i := 0; i < 5; i++ {
		require.Error(t, tr.Send(context.Background(), Event{EventID: "e", Type: TypeStatic}))
	}
	require.Equal(t, int32(5), stub.hits.Load())

	err := tr.Send(context.Background(), Event{EventID: "e", Type: TypeStatic})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), stub.hits.Load())

	assert.False(t, tr.Beacon(Event{EventID: "b", Type: TypeStatic}))
}

func TestBeaconDeliversInBackground(t *testing.T) {
	stub, srv := newIngestStub(t, http.StatusOK)
	tr := NewHTTPTransport(srv.URL, TransportOptions{}, discardLogger())

	assert.True(t, tr.Beacon(Event{EventID: "b1", Type: TypeActivity}))
	assert.True(t, tr.Beacon(Event{EventID: "b2", Type: TypeActivity}))
	require.NoError(t, tr.Close(context.Background()))

	assert.Equal(t, int32(2), stub.hits.Load())
	assert.False(t, tr.Beacon(Event{EventID: "b3", Type: TypeActivity}))
	require.NoError(t, tr.Close(context.Background()))
}

func TestEngineOverHTTPRequeuesRejectedEvents(t *testing.T) {
	_, srv := newIngestStub(t, http.StatusBadRequest)
	tr := newTestTransport(t, srv.URL)
	q := NewQueue(NewMemoryStorage(), 0, discardLogger())
	enqueueAll(t, q, "e1", "e2")
	e := NewEngine(q, tr, tr, discardLogger())

	res, err := e.Flush(context.Background(), 25, ModeNormal)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requeued)
	assert.Equal(t, []string{"e1", "e2"}, queued(t, q))
}

func TestCancelledFlushDoesNotTripBreaker(t *testing.T) {
	stub, srv := newIngestStub(t, http.StatusCreated)
	tr := NewHTTPTransport(srv.URL, TransportOptions{}, discardLogger())
	q := NewQueue(NewMemoryStorage(), 0, discardLogger())
	for i := 0; i < 10; i++ {
		enqueueAll(t, q, fmt.Sprintf("e%d", i))
	}
	e := NewEngine(q, tr, tr, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Flush(ctx, 5, ModeNormal)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Attempted: 5, Requeued: 5}, res)
	assert.Equal(t, gobreaker.StateClosed, tr.breaker.State())

	res, err = e.Flush(context.Background(), 50, ModeLifecycle)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Attempted: 10, Delivered: 10}, res)

	require.NoError(t, tr.Close(context.Background()))
	assert.Equal(t, int32(10), stub.hits.Load())
	assert.Empty(t, queued(t, q))
}

func TestCancelledSendIsReportedAsDeliveryError(t *testing.T) {
	_, srv := newIngestStub(t, http.StatusCreated)
	tr := newTestTransport(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Send(ctx, Event{EventID: "e1", Type: TypeStatic})

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, context.Canceled)
}
