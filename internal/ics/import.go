package ics

import (
	"shipcal/internal/model"
)

// ImportFeed converts one feed payload into shipping events. It fails only
// when the payload as a whole cannot be read; individual VEVENT problems
// are logged and skipped, and unreadable start times are passed through
// for the calendar engine to report.
func ImportFeed(feed Feed, payload []byte, opts ExpandOptions) ([]model.ShippingEvent, error) {
	parsed, err := Parse(feed, payload)
	if err != nil {
		return nil, &FeedError{FeedID: feed.ID, Err: err}
	}
	return Expand(parsed, opts), nil
}
