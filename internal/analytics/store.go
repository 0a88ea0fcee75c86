package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"example.com/pulsetrack/internal/metrics"
)

// Store persists normalized events and answers aggregation queries over a
// database/sql pool. All SQL is shared; the Dialect supplies the parts that
// differ per backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewStore constructs the analytics data access object.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Dialect reports which backend the store talks to.
func (s *Store) Dialect() Dialect { return s.dialect }

// Init applies the schema for the event, rollup and index tables.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply analytics schema: %w", err)
		}
	}
	return nil
}

// Ping checks that a pooled connection can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return storageErr("ping", s.db.PingContext(ctx))
}

// CheckEvent rejects envelopes that cannot be routed to a table.
func CheckEvent(ev Event) error {
	if ev.Type == "" {
		return invalid("missing type")
	}
	if !ev.Type.Valid() {
		return invalid("unknown event type")
	}
	if err := validate().Struct(ev); err != nil {
		return invalid("invalid event: %s", describeValidation(err))
	}
	return nil
}

// InsertEvent normalizes one event and writes it to the table for its type.
// An event whose eventId was already stored is not written again; the
// existing row id is returned with Duplicate set.
func (s *Store) InsertEvent(ctx context.Context, ev Event) (InsertResult, error) {
	if err := CheckEvent(ev); err != nil {
		return InsertResult{}, err
	}
	now := s.now()
	switch ev.Type {
	case EventStatic:
		row, err := NormalizeStatic(ev, now)
		if err != nil {
			return InsertResult{}, err
		}
		return s.InsertStatic(ctx, row)
	case EventPerf:
		row, err := NormalizePerf(ev, now)
		if err != nil {
			return InsertResult{}, err
		}
		return s.InsertPerf(ctx, row)
	default:
		row, err := NormalizeActivity(ev, now)
		if err != nil {
			return InsertResult{}, err
		}
		return s.InsertActivity(ctx, row)
	}
}

// InsertStatic stores a static row.
func (s *Store) InsertStatic(ctx context.Context, row StaticRow) (InsertResult, error) {
	return s.insert(ctx, "static", row.EventID,
		`INSERT INTO static(event_id, session_id, ua, lang, cookies, js_enabled, css_enabled, images_enabled,
			screen_w, screen_h, window_w, window_h, connection, page, ts)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID, row.SessionID, row.UA, row.Lang, row.Cookies, row.JSEnabled, row.CSSEnabled, row.ImagesEnabled,
		row.ScreenW, row.ScreenH, row.WindowW, row.WindowH, row.Connection, row.Page, row.TS,
	)
}

// InsertPerf stores a performance row.
func (s *Store) InsertPerf(ctx context.Context, row PerfRow) (InsertResult, error) {
	return s.insert(ctx, "performance", row.EventID,
		`INSERT INTO performance(event_id, session_id, page, start_ms, end_ms, total_ms, raw, ts)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID, row.SessionID, row.Page, row.StartMs, row.EndMs, row.TotalMs, row.Raw, row.TS,
	)
}

// InsertActivity stores an activity row.
func (s *Store) InsertActivity(ctx context.Context, row ActivityRow) (InsertResult, error) {
	return s.insert(ctx, "activity", row.EventID,
		`INSERT INTO activity(event_id, session_id, page, kind, subtype, x, y, button, scroll_x, scroll_y,
			key_text, idle_duration_ms, msg, stack, ts)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID, row.SessionID, row.Page, row.Kind, row.Subtype, row.X, row.Y, row.Button, row.ScrollX, row.ScrollY,
		row.KeyText, row.IdleDurationMs, row.Msg, row.Stack, row.TS,
	)
}

func (s *Store) insert(ctx context.Context, table string, eventID *string, query string, args ...any) (InsertResult, error) {
	defer metrics.ObserveQuery("insert_"+table, time.Now())
	result := InsertResult{Table: table}

	q := s.dialect.Rebind(query + ` ON CONFLICT(event_id) DO NOTHING RETURNING id`)
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&result.ID)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || eventID == nil {
		return InsertResult{}, storageErr("insert "+table, err)
	}

	// Conflict on event_id: report the row stored by the first delivery.
	lookup := s.dialect.Rebind(`SELECT id FROM ` + table + ` WHERE event_id = ?`)
	if err := s.db.QueryRowContext(ctx, lookup, *eventID).Scan(&result.ID); err != nil {
		return InsertResult{}, storageErr("lookup duplicate "+table, err)
	}
	result.Duplicate = true
	return result, nil
}

const staticColumns = `id, event_id, session_id, ua, lang, cookies, js_enabled, css_enabled, images_enabled,
	screen_w, screen_h, window_w, window_h, connection, page, ts`

type scanner interface {
	Scan(dest ...any) error
}

func scanStatic(sc scanner) (StaticRow, error) {
	var r StaticRow
	err := sc.Scan(&r.ID, &r.EventID, &r.SessionID, &r.UA, &r.Lang, &r.Cookies, &r.JSEnabled, &r.CSSEnabled, &r.ImagesEnabled,
		&r.ScreenW, &r.ScreenH, &r.WindowW, &r.WindowH, &r.Connection, &r.Page, &r.TS)
	return r, err
}

// ListStatic returns the most recent static rows.
func (s *Store) ListStatic(ctx context.Context, limit int) ([]StaticRow, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind(`SELECT `+staticColumns+` FROM static ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, storageErr("list static", err)
	}
	defer rows.Close()
	out := []StaticRow{}
	for rows.Next() {
		r, err := scanStatic(rows)
		if err != nil {
			return nil, storageErr("scan static", err)
		}
		out = append(out, r)
	}
	return out, storageErr("iter static", rows.Err())
}

// GetStatic fetches one static row by id.
func (s *Store) GetStatic(ctx context.Context, id int64) (StaticRow, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT `+staticColumns+` FROM static WHERE id = ?`), id)
	r, err := scanStatic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StaticRow{}, ErrNotFound
	}
	if err != nil {
		return StaticRow{}, storageErr("get static", err)
	}
	return r, nil
}

// UpdateStatic corrects the page and timestamp of a static row.
func (s *Store) UpdateStatic(ctx context.Context, id int64, page *string, ts int64) error {
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE static SET page = ?, ts = ? WHERE id = ?`), page, ts, id)
	if err != nil {
		return storageErr("update static", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStatic removes a static row.
func (s *Store) DeleteStatic(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM static WHERE id = ?`), id)
	if err != nil {
		return storageErr("delete static", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPerf returns the most recent performance rows.
func (s *Store) ListPerf(ctx context.Context, limit int) ([]PerfRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT id, event_id, session_id, page, start_ms, end_ms, total_ms, raw, ts
		 FROM performance ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, storageErr("list performance", err)
	}
	defer rows.Close()
	out := []PerfRow{}
	for rows.Next() {
		var r PerfRow
		if err := rows.Scan(&r.ID, &r.EventID, &r.SessionID, &r.Page, &r.StartMs, &r.EndMs, &r.TotalMs, &r.Raw, &r.TS); err != nil {
			return nil, storageErr("scan performance", err)
		}
		out = append(out, r)
	}
	return out, storageErr("iter performance", rows.Err())
}

// ListActivity returns the most recent activity rows.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]ActivityRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT id, event_id, session_id, page, kind, subtype, x, y, button, scroll_x, scroll_y,
			key_text, idle_duration_ms, msg, stack, ts
		 FROM activity ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, storageErr("list activity", err)
	}
	defer rows.Close()
	out := []ActivityRow{}
	for rows.Next() {
		var r ActivityRow
		if err := rows.Scan(&r.ID, &r.EventID, &r.SessionID, &r.Page, &r.Kind, &r.Subtype, &r.X, &r.Y, &r.Button,
			&r.ScrollX, &r.ScrollY, &r.KeyText, &r.IdleDurationMs, &r.Msg, &r.Stack, &r.TS); err != nil {
			return nil, storageErr("scan activity", err)
		}
		out = append(out, r)
	}
	return out, storageErr("iter activity", rows.Err())
}
