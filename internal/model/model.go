package model

// ShippingEvent is a single time-stamped shipment/tracking event as produced
// by a feed import or read back from the store. The calendar engine only
// reads it; ownership stays with whichever layer supplied it.
type ShippingEvent struct {
	ID    string // unique per event; recurring instances carry a suffix
	Title string

	// Timestamp is whatever the source handed us: a time.Time, a *time.Time,
	// a date-like string, or an epoch-milliseconds number. It is interpreted
	// once, by calendar.Validate.
	Timestamp any

	Carrier        string
	Status         string
	TrackingNumber string

	// AccountName is nil when the source does not know the account at all,
	// which is not the same as an account with an empty name.
	AccountName *string

	// Source is the feed ID the event was imported from ("" for manual entries).
	Source string
}

// HasAccount reports whether an account name was supplied.
func (e ShippingEvent) HasAccount() bool {
	return e.AccountName != nil
}

// StringPtr is a small helper for building optional fields.
func StringPtr(s string) *string {
	return &s
}
