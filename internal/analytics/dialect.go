package analytics

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect holds the SQL fragments that differ between the supported
// backends. Query logic is shared and written with '?' placeholders.
type Dialect struct {
	Name       string
	numbered   bool
	types      *strings.Replacer
	hourBucket string
	dayBucket  string
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		types: strings.NewReplacer(
			"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{bigint}}", "INTEGER",
			"{{float}}", "REAL",
			"{{bool}}", "BOOLEAN NOT NULL DEFAULT 0",
			"{{now}}", "CAST(strftime('%s','now') AS INTEGER) * 1000",
		),
		hourBucket: "strftime('%%Y-%%m-%%d %%H:00:00', %s / 1000, 'unixepoch')",
		dayBucket:  "strftime('%%Y-%%m-%%d', %s / 1000, 'unixepoch')",
	}

	Postgres = Dialect{
		Name:     "postgres",
		numbered: true,
		types: strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{bigint}}", "BIGINT",
			"{{float}}", "DOUBLE PRECISION",
			"{{bool}}", "BOOLEAN NOT NULL DEFAULT FALSE",
			"{{now}}", "(EXTRACT(EPOCH FROM now()) * 1000)::BIGINT",
		),
		hourBucket: "to_char(to_timestamp(%s / 1000.0) AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:00:00')",
		dayBucket:  "to_char(to_timestamp(%s / 1000.0) AT TIME ZONE 'UTC', 'YYYY-MM-DD')",
	}
)

// DialectFor returns the dialect registered for a config driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case SQLite.Name:
		return SQLite, nil
	case Postgres.Name:
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("no SQL dialect for driver %q", driver)
}

// Rebind rewrites '?' placeholders into the dialect's form, leaving quoted
// literals untouched.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Bucket returns the expression grouping an epoch-millisecond column into
// hour ("YYYY-MM-DD HH:00:00") or day ("YYYY-MM-DD") keys, in UTC.
func (d Dialect) Bucket(g Granularity, column string) string {
	if g == ByDay {
		return fmt.Sprintf(d.dayBucket, column)
	}
	return fmt.Sprintf(d.hourBucket, column)
}

// Schema renders the table definitions for this dialect.
func (d Dialect) Schema() []string {
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = d.types.Replace(stmt)
	}
	return out
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS static (
		id {{id}},
		event_id TEXT UNIQUE,
		session_id TEXT,
		ua TEXT,
		lang TEXT,
		cookies {{bool}},
		js_enabled {{bool}},
		css_enabled {{bool}},
		images_enabled {{bool}},
		screen_w {{bigint}},
		screen_h {{bigint}},
		window_w {{bigint}},
		window_h {{bigint}},
		connection TEXT,
		page TEXT,
		ts {{bigint}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS performance (
		id {{id}},
		event_id TEXT UNIQUE,
		session_id TEXT,
		page TEXT,
		start_ms {{float}},
		end_ms {{float}},
		total_ms {{float}},
		raw TEXT NOT NULL,
		ts {{bigint}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activity (
		id {{id}},
		event_id TEXT UNIQUE,
		session_id TEXT,
		page TEXT,
		kind TEXT,
		subtype TEXT,
		x {{float}},
		y {{float}},
		button {{bigint}},
		scroll_x {{float}},
		scroll_y {{float}},
		key_text TEXT,
		idle_duration_ms {{float}},
		msg TEXT,
		stack TEXT,
		ts {{bigint}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_rollups (
		day TEXT PRIMARY KEY,
		pageviews {{bigint}} NOT NULL,
		errors {{bigint}} NOT NULL,
		sessions {{bigint}} NOT NULL,
		computed_at {{bigint}} NOT NULL DEFAULT ({{now}})
	)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_ts ON performance(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_kind_ts ON activity(kind, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_static_ts ON static(ts)`,
}
