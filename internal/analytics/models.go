package analytics

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
)

// EventType is the payload discriminator on the ingestion wire format.
type EventType string

const (
	EventStatic   EventType = "static"
	EventPerf     EventType = "perf"
	EventActivity EventType = "activity"
)

// Valid reports whether t names one of the three stored event kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventStatic, EventPerf, EventActivity:
		return true
	}
	return false
}

// UnmarshalJSON accepts any JSON value. A non-string keeps its raw text so
// validation reports it as an unknown type rather than malformed JSON.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = EventType(s)
		return nil
	}
	if raw := string(bytes.TrimSpace(data)); raw != "null" {
		*t = EventType(raw)
	}
	return nil
}

// Event is the envelope accepted by POST /json/events.
type Event struct {
	EventID   string          `json:"eventId,omitempty" validate:"max=64"`
	SessionID string          `json:"sessionId" validate:"max=128"`
	Type      EventType       `json:"type"`
	TS        *int64          `json:"ts,omitempty" validate:"omitempty,gte=0"`
	Page      string          `json:"page" validate:"max=2048"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Dimensions is a width/height pair reported by the client.
type Dimensions struct {
	W *float64 `json:"w"`
	H *float64 `json:"h"`
}

// StaticPayload is the environment snapshot sent once per page load. Boolean
// flags are decoded loosely and normalized by truthiness.
type StaticPayload struct {
	UA            *string     `json:"ua"`
	Lang          *string     `json:"lang"`
	Cookies       any         `json:"cookies"`
	JSEnabled     any         `json:"jsEnabled"`
	CSSEnabled    any         `json:"cssEnabled"`
	ImagesEnabled any         `json:"imagesEnabled"`
	Screen        *Dimensions `json:"screen"`
	Window        *Dimensions `json:"window"`
	Connection    *string     `json:"connection"`
}

// PerfPayload is the navigation timing snapshot.
type PerfPayload struct {
	Start  *float64        `json:"start"`
	End    *float64        `json:"end"`
	Total  *float64        `json:"total"`
	Timing json.RawMessage `json:"timing"`
}

// ActivityPayload covers every activity kind; fields present depend on Kind.
// Type/Subtype, Key/KeyText and DurationMs/IdleDurationMs are aliases.
type ActivityPayload struct {
	Kind           *string  `json:"kind"`
	Type           *string  `json:"type"`
	Subtype        *string  `json:"subtype"`
	X              *float64 `json:"x"`
	Y              *float64 `json:"y"`
	Button         any      `json:"button"`
	ScrollX        *float64 `json:"scrollX"`
	ScrollY        *float64 `json:"scrollY"`
	Key            *string  `json:"key"`
	KeyText        *string  `json:"keyText"`
	DurationMs     *float64 `json:"durationMs"`
	IdleDurationMs *float64 `json:"idleDurationMs"`
	Msg            *string  `json:"msg"`
	Stack          *string  `json:"stack"`
}

// StaticRow is a normalized row of the static table.
type StaticRow struct {
	ID            int64   `json:"id"`
	EventID       *string `json:"eventId,omitempty"`
	SessionID     *string `json:"sessionId"`
	UA            *string `json:"ua"`
	Lang          *string `json:"lang"`
	Cookies       bool    `json:"cookies"`
	JSEnabled     bool    `json:"jsEnabled"`
	CSSEnabled    bool    `json:"cssEnabled"`
	ImagesEnabled bool    `json:"imagesEnabled"`
	ScreenW       *int64  `json:"screenW"`
	ScreenH       *int64  `json:"screenH"`
	WindowW       *int64  `json:"windowW"`
	WindowH       *int64  `json:"windowH"`
	Connection    *string `json:"connection"`
	Page          *string `json:"page"`
	TS            int64   `json:"ts"`
}

// PerfRow is a normalized row of the performance table.
type PerfRow struct {
	ID        int64    `json:"id"`
	EventID   *string  `json:"eventId,omitempty"`
	SessionID *string  `json:"sessionId"`
	Page      *string  `json:"page"`
	StartMs   *float64 `json:"start_ms"`
	EndMs     *float64 `json:"end_ms"`
	TotalMs   *float64 `json:"total_ms"`
	Raw       string   `json:"raw"`
	TS        int64    `json:"ts"`
}

// ActivityRow is a normalized row of the activity table.
type ActivityRow struct {
	ID             int64    `json:"id"`
	EventID        *string  `json:"eventId,omitempty"`
	SessionID      *string  `json:"sessionId"`
	Page           *string  `json:"page"`
	Kind           *string  `json:"kind"`
	Subtype        *string  `json:"subtype"`
	X              *float64 `json:"x"`
	Y              *float64 `json:"y"`
	Button         *int64   `json:"button"`
	ScrollX        *float64 `json:"scrollX"`
	ScrollY        *float64 `json:"scrollY"`
	KeyText        *string  `json:"keyText"`
	IdleDurationMs *float64 `json:"idleDurationMs"`
	Msg            *string  `json:"msg"`
	Stack          *string  `json:"stack"`
	TS             int64    `json:"ts"`
}

// InsertResult reports where an ingested event landed.
type InsertResult struct {
	ID        int64
	Table     string
	Duplicate bool
}

// Granularity selects the bucket width of time-series aggregations.
type Granularity string

const (
	ByHour Granularity = "hour"
	ByDay  Granularity = "day"
)

// PageviewPoint is one bucket of the pageviews series. Date is only set for
// day buckets.
type PageviewPoint struct {
	Date  string `json:"date,omitempty"`
	TS    string `json:"ts"`
	Count int64  `json:"count"`
}

// RouteHits counts page loads for one route.
type RouteHits struct {
	Route string `json:"route"`
	Hits  int64  `json:"hits"`
}

// ErrorEntry is one captured client error, most recent first.
type ErrorEntry struct {
	ID        int64     `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
}

// ErrorSummary aggregates captured errors per endpoint. The 4xx/5xx columns
// keep the dashboard's table shape; client-side errors carry no status.
type ErrorSummary struct {
	Endpoint    string    `json:"endpoint"`
	Status4xx   int64     `json:"4xx"`
	Status5xx   int64     `json:"5xx"`
	TotalErrors int64     `json:"totalErrors"`
	LastSeen    time.Time `json:"lastSeen"`
}

// ErrorReport is the body of the errors aggregation.
type ErrorReport struct {
	Errors []ErrorEntry   `json:"errors"`
	Rows   []ErrorSummary `json:"rows"`
}

// ErrorRatePoint joins page-load and error counts for one bucket.
type ErrorRatePoint struct {
	TS     string  `json:"ts"`
	Total  int64   `json:"total"`
	Errors int64   `json:"errors"`
	Rate   float64 `json:"rate"`
}

// DailyRollup is the stored summary of one UTC day.
type DailyRollup struct {
	Day        string    `json:"day"`
	Pageviews  int64     `json:"pageviews"`
	Errors     int64     `json:"errors"`
	Sessions   int64     `json:"sessions"`
	ComputedAt time.Time `json:"computedAt"`
}

const unknownRoute = "(unknown)"
