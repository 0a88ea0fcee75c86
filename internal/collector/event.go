package collector

const (
	TypeStatic   = "static"
	TypePerf     = "perf"
	TypeActivity = "activity"
)

// Event is one queued analytics record, in the ingestion wire format.
type Event struct {
	EventID   string         `json:"eventId,omitempty"`
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	TS        int64          `json:"ts"`
	Page      string         `json:"page"`
	Payload   map[string]any `json:"payload"`
}
