package calendar

import (
	"fmt"
	"time"
)

// State is the navigation state: which granularity is shown and which day
// the view is anchored to.
type State struct {
	Granularity Granularity
	Focus       Date
}

// InitialState returns the session-start state for the given clock reading.
func InitialState(now time.Time) State {
	return State{Granularity: Month, Focus: DateOf(now)}
}

// WithGranularity replaces the granularity and keeps the focus day.
func (s State) WithGranularity(g Granularity) State {
	s.Granularity = g
	return s
}

// Select moves the focus to d and keeps the granularity.
func (s State) Select(d Date) State {
	s.Focus = d
	return s
}

// Next advances the focus by one unit of the current granularity.
func (s State) Next() State {
	return s.shift(1)
}

// Previous moves the focus back by one unit of the current granularity.
func (s State) Previous() State {
	return s.shift(-1)
}

// shift moves the focus by n units. Month and Agenda step by calendar
// months with AddDate overflow, so Next then Previous from the 31st does
// not always return to the starting day.
func (s State) shift(n int) State {
	g, _ := s.Granularity.normalize()
	switch g {
	case Week:
		s.Focus = s.Focus.AddDays(7 * n)
	case Day:
		s.Focus = s.Focus.AddDays(n)
	default:
		s.Focus = s.Focus.AddMonths(n)
	}
	return s
}

// Title returns the header label of the current period.
func (s State) Title(r Resolver) string {
	g, _ := s.Granularity.normalize()
	switch g {
	case Week:
		w := r.Resolve(Week, s.Focus)
		start, end := w.Start.Time(), w.End.Time()
		if start.Year() != end.Year() {
			return fmt.Sprintf("%s - %s", start.Format("Jan 2, 2006"), end.Format("Jan 2, 2006"))
		}
		return fmt.Sprintf("%s - %s", start.Format("Jan 2"), end.Format("Jan 2, 2006"))
	case Day:
		return s.Focus.Time().Format("Monday, January 2, 2006")
	default:
		return s.Focus.Time().Format("January 2006")
	}
}

// ActionKind names a navigation transition.
type ActionKind string

const (
	ActionPrevious    ActionKind = "previous"
	ActionNext        ActionKind = "next"
	ActionToday       ActionKind = "today"
	ActionSelect      ActionKind = "select"
	ActionGranularity ActionKind = "granularity"
)

// Action is a reducer input. Date is used by ActionSelect, Granularity by
// ActionGranularity.
type Action struct {
	Kind        ActionKind
	Date        Date
	Granularity Granularity
}

// Reduce applies a to s. today is the calendar day used by ActionToday.
// Unknown action kinds leave the state unchanged.
func Reduce(s State, a Action, today Date) State {
	switch a.Kind {
	case ActionPrevious:
		return s.Previous()
	case ActionNext:
		return s.Next()
	case ActionToday:
		return s.Select(today)
	case ActionSelect:
		return s.Select(a.Date)
	case ActionGranularity:
		return s.WithGranularity(a.Granularity)
	}
	return s
}

// Navigator owns one State and applies transitions to it. It is not safe
// for concurrent use; hosts serialize access.
type Navigator struct {
	state    State
	resolver Resolver
	now      func() time.Time
}

// NavOption configures a Navigator.
type NavOption func(*Navigator)

// WithClock sets the function used to read the current time.
func WithClock(fn func() time.Time) NavOption {
	return func(n *Navigator) {
		n.now = fn
	}
}

// WithResolver sets the window resolver (and so the week start).
func WithResolver(r Resolver) NavOption {
	return func(n *Navigator) {
		n.resolver = r
	}
}

// WithGranularity overrides the initial Month granularity.
func WithGranularity(g Granularity) NavOption {
	return func(n *Navigator) {
		n.state.Granularity = g
	}
}

// NewNavigator creates a Navigator focused on today in Month view.
func NewNavigator(opts ...NavOption) *Navigator {
	n := &Navigator{
		state:    State{Granularity: Month},
		resolver: Resolver{WeekStart: DefaultWeekStart},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.state = InitialState(n.now()).WithGranularity(n.state.Granularity)
	return n
}

func (n *Navigator) today() Date {
	return DateOf(n.now())
}

// State returns the current state.
func (n *Navigator) State() State {
	return n.state
}

// Resolver returns the resolver used for Window.
func (n *Navigator) Resolver() Resolver {
	return n.resolver
}

// Today returns the calendar day of the navigator's clock.
func (n *Navigator) Today() Date {
	return n.today()
}

// Window resolves the visible window of the current state.
func (n *Navigator) Window() Window {
	return n.resolver.Resolve(n.state.Granularity, n.state.Focus)
}

// SetGranularity switches the granularity.
func (n *Navigator) SetGranularity(g Granularity) State {
	return n.Apply(Action{Kind: ActionGranularity, Granularity: g})
}

// Previous steps back one period.
func (n *Navigator) Previous() State {
	return n.Apply(Action{Kind: ActionPrevious})
}

// Next steps forward one period.
func (n *Navigator) Next() State {
	return n.Apply(Action{Kind: ActionNext})
}

// GoToday moves the focus to the current day.
func (n *Navigator) GoToday() State {
	return n.Apply(Action{Kind: ActionToday})
}

// Select moves the focus to d.
func (n *Navigator) Select(d Date) State {
	return n.Apply(Action{Kind: ActionSelect, Date: d})
}

// Apply runs one transition and returns the new state.
func (n *Navigator) Apply(a Action) State {
	n.state = Reduce(n.state, a, n.today())
	return n.state
}
