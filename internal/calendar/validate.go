package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"shipcal/internal/model"
)

// Reason classifies why an event was excluded from bucketing.
type Reason string

// ReasonUnparsableTimestamp is the only exclusion reason the engine produces.
const ReasonUnparsableTimestamp Reason = "unparsable-timestamp"

// maxEpochMillis is the widest instant range a calendar source can express
// (±100,000,000 days around the Unix epoch).
const maxEpochMillis = 8.64e15

var (
	errMissingTimestamp = errors.New("timestamp is missing")
	errOutOfRange       = errors.New("timestamp is out of range")

	errUnrecognizedTimestamp = errors.New("unrecognized timestamp")
)

// TimestampLayouts are tried in order for string timestamps. Layouts without
// a zone are read as wall-clock fields and never converted.
var TimestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	DateLayout,
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ValidatedEvent is a ShippingEvent whose timestamp parsed successfully.
type ValidatedEvent struct {
	Event model.ShippingEvent
	At    time.Time
}

// InvalidEventReport records an event that could not take part in bucketing.
type InvalidEventReport struct {
	Event  model.ShippingEvent
	Reason Reason
	Cause  error
}

func (r InvalidEventReport) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("event %q: %s: %v", r.Event.ID, r.Reason, r.Cause)
	}
	return fmt.Sprintf("event %q: %s", r.Event.ID, r.Reason)
}

// Validator converts raw event timestamps into instants.
type Validator struct {
	// Location is used only for epoch-milliseconds numbers, which carry no
	// zone of their own. Nil means time.Local.
	Location *time.Location
}

// Validate runs the default Validator.
func Validate(ev model.ShippingEvent) (ValidatedEvent, *InvalidEventReport) {
	return Validator{}.Validate(ev)
}

// Validate returns either a ValidatedEvent (and a nil report) or a report.
// It never panics and never returns both.
func (v Validator) Validate(ev model.ShippingEvent) (ValidatedEvent, *InvalidEventReport) {
	at, err := v.instant(ev.Timestamp)
	if err == nil {
		err = checkRange(at)
	}
	if err != nil {
		return ValidatedEvent{}, &InvalidEventReport{
			Event:  ev,
			Reason: ReasonUnparsableTimestamp,
			Cause:  err,
		}
	}
	return ValidatedEvent{Event: ev, At: at}, nil
}

func (v Validator) instant(raw any) (time.Time, error) {
	switch ts := raw.(type) {
	case nil:
		return time.Time{}, errMissingTimestamp
	case time.Time:
		if ts.IsZero() {
			return time.Time{}, errMissingTimestamp
		}
		return ts, nil
	case *time.Time:
		if ts == nil || ts.IsZero() {
			return time.Time{}, errMissingTimestamp
		}
		return *ts, nil
	case string:
		return parseTimestamp(ts)
	case json.Number:
		f, err := ts.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid number %q: %w", ts.String(), err)
		}
		return v.fromEpochMillis(f)
	case int:
		return v.fromEpochMillis(float64(ts))
	case int32:
		return v.fromEpochMillis(float64(ts))
	case int64:
		return v.fromEpochMillis(float64(ts))
	case uint:
		return v.fromEpochMillis(float64(ts))
	case uint32:
		return v.fromEpochMillis(float64(ts))
	case uint64:
		return v.fromEpochMillis(float64(ts))
	case float32:
		return v.fromEpochMillis(float64(ts))
	case float64:
		return v.fromEpochMillis(ts)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

func (v Validator) fromEpochMillis(ms float64) (time.Time, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return time.Time{}, errOutOfRange
	}
	loc := v.Location
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(int64(ms)).In(loc), nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissingTimestamp
	}
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q", errUnrecognizedTimestamp, s)
}

// checkRange rejects instants whose calendar day cannot be written as a
// four-digit YYYY-MM-DD key.
func checkRange(t time.Time) error {
	if y := t.Year(); y < 1 || y > 9999 {
		return errOutOfRange
	}
	return nil
}
