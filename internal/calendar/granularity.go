// Package calendar is the view-computation engine: timestamp validation,
// bucketing, window resolution and navigation for the month, week, day and
// agenda views.
//
// Everything in this package is pure and synchronous. Nothing here logs or
// touches the network or disk; callers decide what to do with invalid
// events and fallback defects.
package calendar

import (
	"errors"
	"strings"
)

// Granularity selects the bucket key shape and the window shape.
type Granularity string

const (
	Month  Granularity = "month"
	Week   Granularity = "week"
	Day    Granularity = "day"
	Agenda Granularity = "agenda"
)

// Granularities lists every supported granularity in display order.
var Granularities = []Granularity{Month, Week, Day, Agenda}

// ErrUnknownGranularity is returned by ParseGranularity for unsupported input.
var ErrUnknownGranularity = errors.New("calendar: unknown granularity")

// ParseGranularity converts user input ("Month", " week ", ...) into a
// Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if g.Valid() {
		return g, nil
	}
	return "", ErrUnknownGranularity
}

// Valid reports whether g is one of the four supported granularities.
func (g Granularity) Valid() bool {
	switch g {
	case Month, Week, Day, Agenda:
		return true
	}
	return false
}

// normalize returns g, or Month when g is not a known value. The second
// result is true when the fallback was taken.
func (g Granularity) normalize() (Granularity, bool) {
	if g.Valid() {
		return g, false
	}
	return Month, true
}

// Hourly reports whether g buckets by (day, hour) rather than by day.
func (g Granularity) Hourly() bool {
	n, _ := g.normalize()
	return n == Week || n == Day
}

func (g Granularity) String() string {
	return string(g)
}
