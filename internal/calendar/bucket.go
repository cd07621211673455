package calendar

import (
	"fmt"
	"sort"

	"shipcal/internal/model"
)

// AllDay is the BucketKey.Hour value used under day keying.
const AllDay = -1

// BucketKey identifies a bucket: a calendar day for month/agenda keying, or
// a (day, hour) pair for week/day keying.
type BucketKey struct {
	Day  Date
	Hour int // 0-23, or AllDay
}

// KeyFor computes the bucket key of an instant for the given granularity.
func KeyFor(ev ValidatedEvent, g Granularity) BucketKey {
	key := BucketKey{Day: DateOf(ev.At), Hour: AllDay}
	if g.Hourly() {
		key.Hour = ev.At.Hour()
	}
	return key
}

func (k BucketKey) String() string {
	if k.Hour == AllDay {
		return k.Day.String()
	}
	return fmt.Sprintf("%sT%02d", k.Day, k.Hour)
}

// Less orders keys chronologically.
func (k BucketKey) Less(o BucketKey) bool {
	if c := k.Day.Compare(o.Day); c != 0 {
		return c < 0
	}
	return k.Hour < o.Hour
}

// Assignment is the result of bucketing one event collection.
type Assignment struct {
	Granularity Granularity
	Buckets     map[BucketKey][]ValidatedEvent
	Invalid     []InvalidEventReport

	// FellBack is set when the requested granularity was not a known value
	// and month keying was used instead. It indicates a caller defect.
	FellBack bool
}

// Assign buckets events with the default Validator.
func Assign(events []model.ShippingEvent, g Granularity) Assignment {
	return Validator{}.Assign(events, g)
}

// Assign validates every event once and appends it to its bucket. Events
// keep their input order within a bucket so first-N truncation in a
// renderer is deterministic. No sorting happens here.
func (v Validator) Assign(events []model.ShippingEvent, g Granularity) Assignment {
	g, fellBack := g.normalize()
	out := Assignment{
		Granularity: g,
		Buckets:     make(map[BucketKey][]ValidatedEvent),
		FellBack:    fellBack,
	}

	for _, ev := range events {
		ve, report := v.Validate(ev)
		if report != nil {
			out.Invalid = append(out.Invalid, *report)
			continue
		}
		key := KeyFor(ve, g)
		out.Buckets[key] = append(out.Buckets[key], ve)
	}

	return out
}

// Keys returns the bucket keys sorted chronologically.
func (a Assignment) Keys() []BucketKey {
	keys := make([]BucketKey, 0, len(a.Buckets))
	for k := range a.Buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Valid returns the number of events placed in buckets.
func (a Assignment) Valid() int {
	n := 0
	for _, evs := range a.Buckets {
		n += len(evs)
	}
	return n
}

// Day returns the events of one day bucket (month/agenda keying).
func (a Assignment) Day(d Date) []ValidatedEvent {
	return a.Buckets[BucketKey{Day: d, Hour: AllDay}]
}

// Hour returns the events of one (day, hour) bucket (week/day keying).
func (a Assignment) Hour(d Date, hour int) []ValidatedEvent {
	return a.Buckets[BucketKey{Day: d, Hour: hour}]
}

// InvalidIDs returns the IDs of the excluded events in input order.
func (a Assignment) InvalidIDs() []string {
	ids := make([]string, 0, len(a.Invalid))
	for _, r := range a.Invalid {
		ids = append(ids, r.Event.ID)
	}
	return ids
}
