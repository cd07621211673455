package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "shipcal/internal/log"
	"shipcal/internal/model"
)

const defaultMaxOccurrences = 500

// ExpandOptions bound recurrence expansion. Non-recurring events are never
// filtered by range: the calendar engine decides what is visible.
type ExpandOptions struct {
	Now          time.Time
	HorizonDays  int
	BackfillDays int

	// MaxOccurrences caps each recurring event. Zero means the default.
	MaxOccurrences int
}

func (o ExpandOptions) bounds() (time.Time, time.Time) {
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.AddDate(0, 0, -o.BackfillDays), now.AddDate(0, 0, o.HorizonDays)
}

// Expand turns parsed VEVENTs into shipping events, keeping feed order.
// Recurring events become one event per occurrence in the expansion range,
// with EXDATEs removed and RECURRENCE-ID overrides applied. Instance IDs
// are "<UID>@<RFC 3339 start>".
func Expand(events []ParsedEvent, opts ExpandOptions) []model.ShippingEvent {
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}

	overrides := make(map[string][]*ParsedEvent)
	for i := range events {
		if events[i].IsOverride() {
			overrides[events[i].UID] = append(overrides[events[i].UID], &events[i])
		}
	}
	used := make(map[*ParsedEvent]bool)

	out := make([]model.ShippingEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride() {
			continue
		}
		if ev.RawRRule == "" || !ev.StartOK {
			out = append(out, toShipping(ev, ev.UID, timestampOf(ev)))
			continue
		}
		out = append(out, expandRecurring(ev, overrides[ev.UID], used, opts)...)
	}

	// Overrides whose instance was not generated still describe a real
	// shipment; keep them.
	for i := range events {
		ov := &events[i]
		if !ov.IsOverride() || used[ov] || !ov.StartOK {
			continue
		}
		out = append(out, toShipping(*ov, instanceID(ov.UID, ov.Start), ov.Start))
	}

	return out
}

func expandRecurring(ev ParsedEvent, overrides []*ParsedEvent, used map[*ParsedEvent]bool, opts ExpandOptions) []model.ShippingEvent {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("invalid RRULE; keeping first instance only", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return []model.ShippingEvent{toShipping(ev, ev.UID, ev.Start)}
	}
	loc := ev.Start.Location()
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, raw := range ev.RawExDates {
		ex, err := parseICSTime(raw, loc)
		if err != nil {
			appLog.Warn("ignoring unreadable EXDATE", "uid", ev.UID, "value", raw)
			continue
		}
		set.ExDate(ex)
	}

	from, to := opts.bounds()
	starts := set.Between(from.In(loc), to.In(loc), true)
	if len(starts) > opts.MaxOccurrences {
		appLog.Error("recurring event truncated", errors.New("max occurrences reached"),
			"uid", ev.UID, "cap", opts.MaxOccurrences)
		starts = starts[:opts.MaxOccurrences]
	}

	out := make([]model.ShippingEvent, 0, len(starts))
	for _, start := range starts {
		id := instanceID(ev.UID, start)
		if ov := findOverride(overrides, start, loc); ov != nil {
			used[ov] = true
			out = append(out, toShipping(*ov, id, timestampOf(*ov)))
			continue
		}
		out = append(out, toShipping(ev, id, start))
	}
	return out
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []*ParsedEvent, start time.Time, loc *time.Location) *ParsedEvent {
	for _, ov := range overrides {
		rid, err := parseICSTime(ov.RecurrenceID, loc)
		if err == nil && rid.Equal(start) {
			return ov
		}
	}
	return nil
}

func instanceID(uid string, start time.Time) string {
	return uid + "@" + start.Format(time.RFC3339)
}

// timestampOf hands the engine a time.Time when DTSTART was readable and
// the raw property text otherwise, so bad values surface as reports.
func timestampOf(ev ParsedEvent) any {
	if ev.StartOK {
		return ev.Start
	}
	if ev.RawStart != "" {
		return ev.RawStart
	}
	return nil
}

func toShipping(ev ParsedEvent, id string, ts any) model.ShippingEvent {
	out := model.ShippingEvent{
		ID:             id,
		Title:          ev.Title,
		Timestamp:      ts,
		Carrier:        ev.Carrier,
		Status:         ev.Status,
		TrackingNumber: ev.TrackingNumber,
		Source:         ev.Feed.ID,
	}
	if ev.Feed.Account != "" {
		out.AccountName = model.StringPtr(ev.Feed.Account)
	}
	return out
}
