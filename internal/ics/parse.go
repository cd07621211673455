package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "shipcal/internal/log"
)

// Shipment-specific VEVENT properties.
const (
	propCarrier        ical.ComponentProperty = "X-CARRIER"
	propTrackingNumber ical.ComponentProperty = "X-TRACKING-NUMBER"
	propShipmentStatus ical.ComponentProperty = "X-SHIPMENT-STATUS"
	propRecurrenceID   ical.ComponentProperty = "RECURRENCE-ID"
)

// ErrEmptyPayload is returned for an empty feed body.
var ErrEmptyPayload = errors.New("ics: empty payload")

// ParsedEvent is one VEVENT read from a feed, before recurrence expansion.
type ParsedEvent struct {
	Feed Feed

	UID   string
	Title string

	Carrier        string
	Status         string
	TrackingNumber string

	// Start is set when the library could read DTSTART. Otherwise RawStart
	// keeps the property value so the calendar engine can report it.
	Start    time.Time
	StartOK  bool
	RawStart string

	// RRULE, EXDATE and RECURRENCE-ID are kept raw; floating values are
	// resolved against the zone of Start during expansion.
	RawRRule     string
	RawExDates   []string
	RecurrenceID string
}

// IsOverride reports whether ev replaces one instance of a recurring event.
func (ev ParsedEvent) IsOverride() bool {
	return ev.RecurrenceID != ""
}

// Parse reads every VEVENT of a feed payload. A VEVENT without UID is
// logged and skipped; a VEVENT with an unreadable DTSTART is kept.
func Parse(feed Feed, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyPayload
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(feed, ve)
		if err != nil {
			appLog.Warn("skipping vevent", "feed", feed.ID, "reason", err)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("feed parsed", "feed", feed.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Feed: feed}

	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.UID == "" {
		return out, errors.New("missing UID")
	}
	out.Title = propValue(ve, ical.ComponentPropertySummary)

	details := descriptionFields(propValue(ve, ical.ComponentPropertyDescription))
	out.Carrier = firstNonEmpty(propValue(ve, propCarrier), details["carrier"])
	out.TrackingNumber = firstNonEmpty(propValue(ve, propTrackingNumber), details["tracking"], details["tracking number"])
	out.Status = firstNonEmpty(propValue(ve, propShipmentStatus), details["status"], propValue(ve, ical.ComponentPropertyStatus))

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		out.RawStart = p.Value
		if start, err := ve.GetStartAt(); err == nil && !start.IsZero() {
			out.Start = start
			out.StartOK = true
		}
	}

	out.RawRRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out.RawExDates = append(out.RawExDates, part)
			}
		}
	}

	out.RecurrenceID = propValue(ve, propRecurrenceID)

	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Value)
}

// descriptionFields reads "Key: value" lines from a DESCRIPTION. Keys are
// lowercased. Escaped newlines are accepted in both raw and unescaped form.
func descriptionFields(desc string) map[string]string {
	fields := make(map[string]string)
	desc = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";").Replace(desc)
	for _, line := range strings.Split(desc, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = value
		}
	}
	return fields
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseICSTime parses the basic DATE / DATE-TIME forms used by EXDATE and
// RECURRENCE-ID. UTC values keep their instant; floating values and dates
// are read as wall clock in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
