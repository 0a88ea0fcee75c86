package analytics

import (
	"context"
	"time"

	"example.com/pulsetrack/internal/metrics"
)

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RollupDay recomputes the summary of one UTC day and upserts it.
func (s *Store) RollupDay(ctx context.Context, day time.Time) (DailyRollup, error) {
	defer metrics.ObserveQuery("rollup_day", time.Now())
	start := DayStart(day)
	from, to := start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli()
	r := DailyRollup{Day: start.Format(time.DateOnly)}

	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COUNT(*), COUNT(DISTINCT session_id) FROM performance WHERE ts >= ? AND ts < ?`),
		from, to).Scan(&r.Pageviews, &r.Sessions)
	if err != nil {
		return DailyRollup{}, storageErr("rollup pageviews", err)
	}
	err = s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COUNT(*) FROM activity WHERE kind = 'error' AND ts >= ? AND ts < ?`),
		from, to).Scan(&r.Errors)
	if err != nil {
		return DailyRollup{}, storageErr("rollup errors", err)
	}

	r.ComputedAt = s.now().UTC().Truncate(time.Millisecond)
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO daily_rollups(day, pageviews, errors, sessions, computed_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET pageviews = excluded.pageviews, errors = excluded.errors,
			sessions = excluded.sessions, computed_at = excluded.computed_at`),
		r.Day, r.Pageviews, r.Errors, r.Sessions, r.ComputedAt.UnixMilli())
	if err != nil {
		return DailyRollup{}, storageErr("upsert rollup", err)
	}
	return r, nil
}

// ListRollups returns stored day summaries from since onwards, ascending.
func (s *Store) ListRollups(ctx context.Context, since time.Time) ([]DailyRollup, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT day, pageviews, errors, sessions, computed_at FROM daily_rollups
		 WHERE day >= ? ORDER BY day`), DayStart(since).Format(time.DateOnly))
	if err != nil {
		return nil, storageErr("list rollups", err)
	}
	defer rows.Close()
	out := []DailyRollup{}
	for rows.Next() {
		var (
			r          DailyRollup
			computedAt int64
		)
		if err := rows.Scan(&r.Day, &r.Pageviews, &r.Errors, &r.Sessions, &computedAt); err != nil {
			return nil, storageErr("scan rollup", err)
		}
		r.ComputedAt = time.UnixMilli(computedAt).UTC()
		out = append(out, r)
	}
	return out, storageErr("iter rollups", rows.Err())
}
