package analytics

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var buttonNames = map[string]int64{"left": 0, "middle": 1, "right": 2}

// NormalizeButton maps a pointer button to its numeric code: numbers pass
// through, left/middle/right map to 0/1/2, anything else is nil.
func NormalizeButton(v any) *int64 {
	switch b := v.(type) {
	case float64:
		n := int64(b)
		return &n
	case int:
		n := int64(b)
		return &n
	case int64:
		return &b
	case json.Number:
		if f, err := b.Float64(); err == nil {
			n := int64(f)
			return &n
		}
	case string:
		if n, ok := buttonNames[strings.ToLower(b)]; ok {
			return &n
		}
	}
	return nil
}

// truthy mirrors loose boolean coercion of client flags.
func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case float64:
		return b != 0 && !math.IsNaN(b)
	case string:
		return b != ""
	default:
		return true
	}
}

func roundPtr(v *float64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(math.Round(*v))
	return &n
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstString(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// decodePayload fills the payload struct dst points to, field by field. A
// payload that is not an object, or a field holding a value of the wrong
// type, leaves the affected fields nil instead of rejecting the event.
func decodePayload(raw json.RawMessage, dst any) {
	decodeFields(raw, reflect.ValueOf(dst).Elem())
}

func decodeFields(raw json.RawMessage, v reflect.Value) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		val, ok := fields[name]
		if !ok {
			continue
		}
		if f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Struct {
			nested := reflect.New(f.Type.Elem())
			if decodeFields(val, nested.Elem()) {
				v.Field(i).Set(nested)
			}
			continue
		}
		ptr := reflect.New(f.Type)
		if err := json.Unmarshal(val, ptr.Interface()); err == nil {
			v.Field(i).Set(ptr.Elem())
		}
	}
	return true
}

func eventTS(ev Event, now time.Time) int64 {
	if ev.TS != nil {
		return *ev.TS
	}
	return now.UnixMilli()
}

// NormalizeStatic turns a static event into its stored row.
func NormalizeStatic(ev Event, now time.Time) (StaticRow, error) {
	var p StaticPayload
	decodePayload(ev.Payload, &p)
	return buildStatic(ev, p, now), nil
}

func buildStatic(ev Event, p StaticPayload, now time.Time) StaticRow {
	row := StaticRow{
		EventID:       nonEmpty(ev.EventID),
		SessionID:     nonEmpty(ev.SessionID),
		UA:            p.UA,
		Lang:          p.Lang,
		Cookies:       truthy(p.Cookies),
		JSEnabled:     truthy(p.JSEnabled),
		CSSEnabled:    truthy(p.CSSEnabled),
		ImagesEnabled: truthy(p.ImagesEnabled),
		Connection:    p.Connection,
		Page:          nonEmpty(ev.Page),
		TS:            eventTS(ev, now),
	}
	if p.Screen != nil {
		row.ScreenW, row.ScreenH = roundPtr(p.Screen.W), roundPtr(p.Screen.H)
	}
	if p.Window != nil {
		row.WindowW, row.WindowH = roundPtr(p.Window.W), roundPtr(p.Window.H)
	}
	return row
}

// NormalizePerf turns a perf event into its stored row. The timing object is
// kept verbatim as JSON text.
func NormalizePerf(ev Event, now time.Time) (PerfRow, error) {
	var p PerfPayload
	decodePayload(ev.Payload, &p)
	return buildPerf(ev, p, now)
}

func buildPerf(ev Event, p PerfPayload, now time.Time) (PerfRow, error) {
	raw := "{}"
	if t := bytes.TrimSpace(p.Timing); len(t) > 0 && !bytes.Equal(t, []byte("null")) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, t); err != nil {
			return PerfRow{}, invalid("invalid payload")
		}
		raw = compact.String()
	}
	return PerfRow{
		EventID:   nonEmpty(ev.EventID),
		SessionID: nonEmpty(ev.SessionID),
		Page:      nonEmpty(ev.Page),
		StartMs:   p.Start,
		EndMs:     p.End,
		TotalMs:   p.Total,
		Raw:       raw,
		TS:        eventTS(ev, now),
	}, nil
}

// NormalizeActivity turns an activity event into its stored row.
func NormalizeActivity(ev Event, now time.Time) (ActivityRow, error) {
	var p ActivityPayload
	decodePayload(ev.Payload, &p)
	return buildActivity(ev, p, now), nil
}

func buildActivity(ev Event, p ActivityPayload, now time.Time) ActivityRow {
	return ActivityRow{
		EventID:        nonEmpty(ev.EventID),
		SessionID:      nonEmpty(ev.SessionID),
		Page:           nonEmpty(ev.Page),
		Kind:           p.Kind,
		Subtype:        firstString(p.Type, p.Subtype),
		X:              p.X,
		Y:              p.Y,
		Button:         NormalizeButton(p.Button),
		ScrollX:        p.ScrollX,
		ScrollY:        p.ScrollY,
		KeyText:        firstString(p.Key, p.KeyText),
		IdleDurationMs: firstFloat(p.DurationMs, p.IdleDurationMs),
		Msg:            p.Msg,
		Stack:          p.Stack,
		TS:             eventTS(ev, now),
	}
}
