package calendar

import "shipcal/internal/model"

// HoursPerDay is the number of hour slots in a week or day cell.
const HoursPerDay = 24

// Cell is one day of a month, week or day grid.
type Cell struct {
	Day      Date
	InPeriod bool // inside the focused month (always true for week/day)
	IsToday  bool

	// Events holds the day bucket for month grids.
	Events []ValidatedEvent
	// Hours holds the 24 hour buckets for week and day grids.
	Hours [][]ValidatedEvent
}

// Count returns the number of events in the cell.
func (c Cell) Count() int {
	n := len(c.Events)
	for _, h := range c.Hours {
		n += len(h)
	}
	return n
}

// AgendaDay is one day of the agenda list.
type AgendaDay struct {
	Day     Date
	IsToday bool
	Events  []ValidatedEvent
}

// View is everything a renderer needs for one render request.
type View struct {
	State  State
	Title  string
	Window Window

	Cells  []Cell      // month, week and day
	Agenda []AgendaDay // agenda only

	Invalid  []InvalidEventReport
	FellBack bool
}

// InvalidIDs returns the IDs of events excluded for bad timestamps.
func (v View) InvalidIDs() []string {
	ids := make([]string, 0, len(v.Invalid))
	for _, r := range v.Invalid {
		ids = append(ids, r.Event.ID)
	}
	return ids
}

// Options parameterize Build.
type Options struct {
	Validator Validator
	Resolver  Resolver
	Today     Date
}

// Build resolves the window, buckets the events and lays them out as grid
// cells or agenda days.
func Build(events []model.ShippingEvent, s State, opts Options) View {
	g, fellBack := s.Granularity.normalize()
	s.Granularity = g

	assignment := opts.Validator.Assign(events, g)
	v := View{
		State:    s,
		Title:    s.Title(opts.Resolver),
		Window:   opts.Resolver.Resolve(g, s.Focus),
		Invalid:  assignment.Invalid,
		FellBack: fellBack || assignment.FellBack,
	}

	if g == Agenda {
		v.Agenda = agendaDays(assignment, opts.Today)
		return v
	}

	days := v.Window.Dates()
	v.Cells = make([]Cell, 0, len(days))
	for _, d := range days {
		cell := Cell{
			Day:      d,
			InPeriod: g != Month || d.SameMonth(s.Focus),
			IsToday:  d == opts.Today,
		}
		if g == Month {
			cell.Events = assignment.Day(d)
		} else {
			cell.Hours = make([][]ValidatedEvent, HoursPerDay)
			for h := 0; h < HoursPerDay; h++ {
				cell.Hours[h] = assignment.Hour(d, h)
			}
		}
		v.Cells = append(v.Cells, cell)
	}
	return v
}

func agendaDays(a Assignment, today Date) []AgendaDay {
	keys := a.Keys()
	out := make([]AgendaDay, 0, len(keys))
	for _, k := range keys {
		out = append(out, AgendaDay{
			Day:     k.Day,
			IsToday: k.Day == today,
			Events:  a.Buckets[k],
		})
	}
	return out
}

// Truncate splits a bucket into the first n events and the count of the
// rest, for "+K more" indicators. n <= 0 shows everything.
func Truncate(events []ValidatedEvent, n int) ([]ValidatedEvent, int) {
	if n <= 0 || len(events) <= n {
		return events, 0
	}
	return events[:n], len(events) - n
}
