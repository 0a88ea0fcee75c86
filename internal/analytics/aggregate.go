package analytics

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"example.com/pulsetrack/internal/metrics"
)

const (
	DefaultPageviewsWindow = 14
	DefaultTopRoutesWindow = 7
	DefaultErrorsWindow    = 1
	DefaultErrorRateWindow = 7

	DefaultTopRoutesLimit = 10
	MaxTopRoutesLimit     = 100
	maxErrorEntries       = 100
)

// ParseSince reads an inclusive lower bound given as YYYY-MM-DD or RFC3339.
// An empty value means midnight UTC defaultDays before now.
func ParseSince(raw string, defaultDays int, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		day := now.UTC().AddDate(0, 0, -defaultDays)
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, invalid("invalid since %q: want YYYY-MM-DD or RFC3339", raw)
}

// ParseGranularity reads the groupBy parameter, falling back to def.
func ParseGranularity(raw string, def Granularity) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return def, nil
	case ByHour:
		return ByHour, nil
	case ByDay:
		return ByDay, nil
	}
	return "", invalid("invalid groupBy %q: want hour or day", raw)
}

// ClampLimit parses a top-routes limit, clamped to 1..MaxTopRoutesLimit.
func ClampLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultTopRoutesLimit
	}
	return max(1, min(MaxTopRoutesLimit, n))
}

type bucketCount struct {
	Key   string
	Count int64
}

// queryBuckets counts rows of table matching where, grouped by the bucket
// expression for g, ascending by bucket key.
func (s *Store) queryBuckets(ctx context.Context, name, table, where string, g Granularity, since time.Time) ([]bucketCount, error) {
	defer metrics.ObserveQuery(name, time.Now())
	cond := "ts >= ?"
	if where != "" {
		cond = where + " AND " + cond
	}
	query := `SELECT ` + s.dialect.Bucket(g, "ts") + ` AS bucket, COUNT(*) AS n
		FROM ` + table + ` WHERE ` + cond + `
		GROUP BY bucket ORDER BY bucket`
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), since.UnixMilli())
	if err != nil {
		return nil, storageErr(name, err)
	}
	defer rows.Close()
	var out []bucketCount
	for rows.Next() {
		var b bucketCount
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, storageErr("scan "+name, err)
		}
		out = append(out, b)
	}
	return out, storageErr("iter "+name, rows.Err())
}

// Pageviews counts page loads per bucket since the given time.
func (s *Store) Pageviews(ctx context.Context, since time.Time, g Granularity) ([]PageviewPoint, error) {
	buckets, err := s.queryBuckets(ctx, "pageviews", "performance", "", g, since)
	if err != nil {
		return nil, err
	}
	points := make([]PageviewPoint, 0, len(buckets))
	for _, b := range buckets {
		p := PageviewPoint{TS: b.Key, Count: b.Count}
		if g == ByDay {
			p.Date = b.Key
		}
		points = append(points, p)
	}
	return points, nil
}

// TopRoutes ranks pages by page loads since the given time.
func (s *Store) TopRoutes(ctx context.Context, since time.Time, limit int) ([]RouteHits, error) {
	defer metrics.ObserveQuery("top_routes", time.Now())
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT COALESCE(NULLIF(page, ''), '`+unknownRoute+`') AS route, COUNT(*) AS hits
		 FROM performance WHERE ts >= ?
		 GROUP BY route ORDER BY hits DESC, route ASC LIMIT ?`),
		since.UnixMilli(), limit)
	if err != nil {
		return nil, storageErr("top routes", err)
	}
	defer rows.Close()
	out := []RouteHits{}
	for rows.Next() {
		var r RouteHits
		if err := rows.Scan(&r.Route, &r.Hits); err != nil {
			return nil, storageErr("scan top routes", err)
		}
		out = append(out, r)
	}
	return out, storageErr("iter top routes", rows.Err())
}

// Errors lists captured client errors since the given time, both one by one
// (most recent first) and summarized per endpoint.
func (s *Store) Errors(ctx context.Context, since time.Time) (ErrorReport, error) {
	defer metrics.ObserveQuery("errors", time.Now())
	report := ErrorReport{Errors: []ErrorEntry{}, Rows: []ErrorSummary{}}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT id, COALESCE(NULLIF(page, ''), '`+unknownRoute+`'), COALESCE(msg, ''), COALESCE(session_id, ''), ts
		 FROM activity WHERE kind = 'error' AND ts >= ?
		 ORDER BY ts DESC, id DESC LIMIT ?`),
		since.UnixMilli(), maxErrorEntries)
	if err != nil {
		return report, storageErr("errors", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e  ErrorEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Endpoint, &e.Message, &e.SessionID, &ts); err != nil {
			return report, storageErr("scan errors", err)
		}
		e.LastSeen = time.UnixMilli(ts).UTC()
		report.Errors = append(report.Errors, e)
	}
	if err := rows.Err(); err != nil {
		return report, storageErr("iter errors", err)
	}
	rows.Close()

	summary, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT COALESCE(NULLIF(page, ''), '`+unknownRoute+`') AS endpoint, COUNT(*) AS total, MAX(ts) AS last_seen
		 FROM activity WHERE kind = 'error' AND ts >= ?
		 GROUP BY endpoint ORDER BY total DESC, last_seen DESC`),
		since.UnixMilli())
	if err != nil {
		return report, storageErr("error summary", err)
	}
	defer summary.Close()
	for summary.Next() {
		var (
			r  ErrorSummary
			ts int64
		)
		if err := summary.Scan(&r.Endpoint, &r.TotalErrors, &ts); err != nil {
			return report, storageErr("scan error summary", err)
		}
		r.LastSeen = time.UnixMilli(ts).UTC()
		report.Rows = append(report.Rows, r)
	}
	return report, storageErr("iter error summary", summary.Err())
}

// ErrorRate buckets page loads and errors independently and joins them on
// the bucket key; a bucket present on one side only reports 0 for the other.
func (s *Store) ErrorRate(ctx context.Context, since time.Time, g Granularity) ([]ErrorRatePoint, error) {
	totals, err := s.queryBuckets(ctx, "error_rate_totals", "performance", "", g, since)
	if err != nil {
		return nil, err
	}
	errs, err := s.queryBuckets(ctx, "error_rate_errors", "activity", "kind = 'error'", g, since)
	if err != nil {
		return nil, err
	}
	return joinErrorRate(totals, errs), nil
}

func joinErrorRate(totals, errs []bucketCount) []ErrorRatePoint {
	merged := make(map[string]*ErrorRatePoint, len(totals)+len(errs))
	for _, b := range totals {
		merged[b.Key] = &ErrorRatePoint{TS: b.Key, Total: b.Count}
	}
	for _, b := range errs {
		p, ok := merged[b.Key]
		if !ok {
			p = &ErrorRatePoint{TS: b.Key}
			merged[b.Key] = p
		}
		p.Errors = b.Count
	}
	points := make([]ErrorRatePoint, 0, len(merged))
	for _, p := range merged {
		if p.Total > 0 {
			p.Rate = float64(p.Errors) / float64(p.Total)
		}
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].TS < points[j].TS })
	return points
}
