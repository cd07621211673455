package calendar

import "time"

// DefaultWeekStart is the first day of the 7-day cycle used everywhere unless
// configured otherwise.
const DefaultWeekStart = time.Sunday

// Window is the inclusive range of days to render. Agenda views get an
// Unbounded window with zero Start/End.
type Window struct {
	Start     Date
	End       Date
	Unbounded bool
}

// Days returns the number of days in w, or 0 for an unbounded window.
func (w Window) Days() int {
	if w.Unbounded {
		return 0
	}
	return w.Start.DaysUntil(w.End) + 1
}

// Contains reports whether d falls inside w. Every day is inside an
// unbounded window.
func (w Window) Contains(d Date) bool {
	if w.Unbounded {
		return true
	}
	return !d.Before(w.Start) && !d.After(w.End)
}

// Dates lists every day of w in order. It returns nil for unbounded windows.
func (w Window) Dates() []Date {
	if w.Unbounded {
		return nil
	}
	out := make([]Date, 0, w.Days())
	for d := w.Start; !d.After(w.End); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Resolver computes view windows for a fixed week-start convention.
type Resolver struct {
	WeekStart time.Weekday
}

// Resolve uses a Sunday-start Resolver.
func Resolve(g Granularity, focus Date) Window {
	return Resolver{WeekStart: DefaultWeekStart}.Resolve(g, focus)
}

// Resolve returns the window for g anchored at focus. Unknown granularities
// resolve like Month.
func (r Resolver) Resolve(g Granularity, focus Date) Window {
	g, _ = g.normalize()
	switch g {
	case Week:
		start := r.StartOfWeek(focus)
		return Window{Start: start, End: start.AddDays(6)}
	case Day:
		return Window{Start: focus, End: focus}
	case Agenda:
		return Window{Unbounded: true}
	default:
		return Window{
			Start: r.StartOfWeek(focus.FirstOfMonth()),
			End:   r.EndOfWeek(focus.LastOfMonth()),
		}
	}
}

// StartOfWeek returns the closest day on or before d that falls on WeekStart.
func (r Resolver) StartOfWeek(d Date) Date {
	back := (int(d.Weekday()) - int(r.WeekStart) + 7) % 7
	return d.AddDays(-back)
}

// EndOfWeek returns the last day of the week containing d.
func (r Resolver) EndOfWeek(d Date) Date {
	return r.StartOfWeek(d).AddDays(6)
}
