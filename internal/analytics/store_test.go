package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/pulsetrack/internal/sqlutil"
)

var fixedNow = time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlutil.OpenSQLite(filepath.Join(t.TempDir(), "analytics.db"), sqlutil.Pool{MaxOpenConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, SQLite)
	store.now = func() time.Time { return fixedNow }
	require.NoError(t, store.Init(context.Background()))
	return store
}

func ms(t time.Time) *int64 {
	v := t.UnixMilli()
	return &v
}

func event(typ EventType, page string, ts time.Time, payload string) Event {
	ev := Event{SessionID: "s-1", Type: typ, Page: page, TS: ms(ts)}
	if payload != "" {
		ev.Payload = json.RawMessage(payload)
	}
	return ev
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestInsertEventRoutesByType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	res, err := s.InsertEvent(ctx, event(EventStatic, "/home", at,
		`{"ua":"agent","lang":"en","cookies":true,"jsEnabled":1,"cssEnabled":"",
		  "screen":{"w":1920,"h":1080},"window":{"w":800.6,"h":600},"connection":"4g"}`))
	require.NoError(t, err)
	assert.Equal(t, "static", res.Table)
	assert.False(t, res.Duplicate)

	row, err := s.GetStatic(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, row.Cookies)
	assert.True(t, row.JSEnabled)
	assert.False(t, row.CSSEnabled)
	assert.False(t, row.ImagesEnabled)
	require.NotNil(t, row.WindowW)
	assert.EqualValues(t, 801, *row.WindowW)
	assert.EqualValues(t, 1080, *row.ScreenH)
	assert.Equal(t, "4g", *row.Connection)
	assert.Equal(t, at.UnixMilli(), row.TS)

	res, err = s.InsertEvent(ctx, event(EventPerf, "/home", at, `{"start":1,"end":250,"total":249}`))
	require.NoError(t, err)
	assert.Equal(t, "performance", res.Table)
	perf, err := s.ListPerf(ctx, 10)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, "{}", perf[0].Raw)
	assert.InDelta(t, 249, *perf[0].TotalMs, 0.001)

	res, err = s.InsertEvent(ctx, event(EventActivity, "/home", at,
		`{"kind":"mouse","type":"click","x":10,"y":20,"button":"left"}`))
	require.NoError(t, err)
	assert.Equal(t, "activity", res.Table)
	acts, err := s.ListActivity(ctx, 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.NotNil(t, acts[0].Button)
	assert.EqualValues(t, 0, *acts[0].Button)
	assert.Equal(t, "click", *acts[0].Subtype)
	assert.Nil(t, acts[0].KeyText)
}

func TestInsertEventAliases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertEvent(ctx, Event{Type: EventActivity, Payload: json.RawMessage(
		`{"kind":"key","subtype":"down","keyText":"a","idleDurationMs":42,"button":"back"}`)})
	require.NoError(t, err)

	acts, err := s.ListActivity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "down", *acts[0].Subtype)
	assert.Equal(t, "a", *acts[0].KeyText)
	assert.InDelta(t, 42, *acts[0].IdleDurationMs, 0.001)
	assert.Nil(t, acts[0].Button)
	assert.Nil(t, acts[0].SessionID)
	assert.Nil(t, acts[0].Page)
	assert.Equal(t, fixedNow.UnixMilli(), acts[0].TS, "missing ts falls back to the server clock")
}

func TestInsertEventRejectsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := map[string]Event{
		"missing type":       {SessionID: "s"},
		"unknown event type": {SessionID: "s", Type: "pageview"},
	}
	for want, ev := range cases {
		_, err := s.InsertEvent(ctx, ev)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), want)
		assert.Equal(t, want, verr.Message)
	}
	for _, table := range []string{"static", "performance", "activity"} {
		assert.Zero(t, countRows(t, s, table), table)
	}
}

func TestInsertEventDeduplicatesByEventID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := event(EventPerf, "/a", fixedNow, `{"total":5}`)
	ev.EventID = "6f1c2a34-0d8e-4b59-9a43-1d2f3c4b5a60"

	first, err := s.InsertEvent(ctx, ev)
	require.NoError(t, err)
	second, err := s.InsertEvent(ctx, ev)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, countRows(t, s, "performance"))

	// Without an event id every delivery is stored.
	ev.EventID = ""
	_, err = s.InsertEvent(ctx, ev)
	require.NoError(t, err)
	_, err = s.InsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 3, countRows(t, s, "performance"))
}

func TestStaticCorrections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.InsertEvent(ctx, event(EventStatic, "/old", fixedNow, ""))
	require.NoError(t, err)

	page := "/new"
	require.NoError(t, s.UpdateStatic(ctx, res.ID, &page, 7))
	row, err := s.GetStatic(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "/new", *row.Page)
	assert.EqualValues(t, 7, row.TS)

	require.NoError(t, s.DeleteStatic(ctx, res.ID))
	_, err = s.GetStatic(ctx, res.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteStatic(ctx, res.ID), ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatic(ctx, res.ID, &page, 1), ErrNotFound)
}

func TestStorageErrorsWrapDriverFailures(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.db.Close())

	_, err := s.InsertEvent(context.Background(), event(EventPerf, "/", fixedNow, ""))
	var serr *StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "insert performance", serr.Op)
}
