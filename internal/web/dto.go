package web

import (
	"time"

	"shipcal/internal/calendar"
	"shipcal/internal/model"
	"shipcal/internal/refresh"
)

// ViewResponse is the JSON shape of a rendered view.
type ViewResponse struct {
	Granularity string `json:"granularity"`
	Focus       string `json:"focus"`
	Title       string `json:"title"`

	// WindowStart / WindowEnd are empty for the unbounded agenda.
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`

	Cells  []CellDTO      `json:"cells,omitempty"`
	Agenda []AgendaDayDTO `json:"agenda,omitempty"`

	InvalidIDs []string `json:"invalid_ids"`
}

// CellDTO is one grid day. Month cells fill Events; week and day cells
// fill Hours with the non-empty hour slots only.
type CellDTO struct {
	Day      string     `json:"day"`
	InPeriod bool       `json:"in_period"`
	IsToday  bool       `json:"is_today"`
	Events   []EventDTO `json:"events,omitempty"`
	More     int        `json:"more,omitempty"`
	Hours    []HourDTO  `json:"hours,omitempty"`
}

// HourDTO is one hour slot of a week or day cell.
type HourDTO struct {
	Hour   int        `json:"hour"`
	Events []EventDTO `json:"events"`
	More   int        `json:"more,omitempty"`
}

// AgendaDayDTO is one agenda day. Agenda days are never truncated.
type AgendaDayDTO struct {
	Day     string     `json:"day"`
	IsToday bool       `json:"is_today"`
	Events  []EventDTO `json:"events"`
}

// EventDTO is a shipping event placed in a view.
type EventDTO struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	At             *time.Time `json:"at,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	Status         string     `json:"status,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	AccountName    *string    `json:"account_name,omitempty"`
	Source         string     `json:"source,omitempty"`
}

type eventsResponse struct {
	Events     []storedEventDTO `json:"events"`
	InvalidIDs []string         `json:"invalid_ids"`
}

// storedEventDTO is a store row as listed by /api/events.
type storedEventDTO struct {
	EventDTO
	Timestamp any    `json:"timestamp"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

type summaryDTO struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Feeds      int       `json:"feeds"`
	FromCache  int       `json:"from_cache"`
	Imported   int       `json:"imported"`
	Persisted  int       `json:"persisted"`
	Pruned     int       `json:"pruned"`
	Errors     []string  `json:"errors"`
}

// Present converts a view to its JSON shape, listing at most maxPerCell
// events per grid cell or hour slot and counting the rest in More.
func Present(v calendar.View, maxPerCell int) ViewResponse {
	resp := ViewResponse{
		Granularity: v.State.Granularity.String(),
		Focus:       v.State.Focus.String(),
		Title:       v.Title,
		InvalidIDs:  v.InvalidIDs(),
	}
	if !v.Window.Unbounded {
		resp.WindowStart = v.Window.Start.String()
		resp.WindowEnd = v.Window.End.String()
	}

	for _, c := range v.Cells {
		cell := CellDTO{
			Day:      c.Day.String(),
			InPeriod: c.InPeriod,
			IsToday:  c.IsToday,
		}
		if c.Hours == nil {
			shown, more := calendar.Truncate(c.Events, maxPerCell)
			cell.Events, cell.More = toEventDTOs(shown), more
		}
		for h, evs := range c.Hours {
			if len(evs) == 0 {
				continue
			}
			shown, more := calendar.Truncate(evs, maxPerCell)
			cell.Hours = append(cell.Hours, HourDTO{Hour: h, Events: toEventDTOs(shown), More: more})
		}
		resp.Cells = append(resp.Cells, cell)
	}

	for _, d := range v.Agenda {
		resp.Agenda = append(resp.Agenda, AgendaDayDTO{
			Day:     d.Day.String(),
			IsToday: d.IsToday,
			Events:  toEventDTOs(d.Events),
		})
	}
	return resp
}

func (s *Server) present(v calendar.View) ViewResponse {
	return Present(v, s.cfg.MaxEventsPerCell)
}

func toEventDTOs(events []calendar.ValidatedEvent) []EventDTO {
	out := make([]EventDTO, 0, len(events))
	for _, ve := range events {
		dto := toEventDTO(ve.Event)
		at := ve.At
		dto.At = &at
		out = append(out, dto)
	}
	return out
}

func toEventDTO(ev model.ShippingEvent) EventDTO {
	return EventDTO{
		ID:             ev.ID,
		Title:          ev.Title,
		Carrier:        ev.Carrier,
		Status:         ev.Status,
		TrackingNumber: ev.TrackingNumber,
		AccountName:    ev.AccountName,
		Source:         ev.Source,
	}
}

func toSummaryDTO(s refresh.Summary) summaryDTO {
	out := summaryDTO{
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Feeds:      s.Feeds,
		FromCache:  s.FromCache,
		Imported:   s.Imported,
		Persisted:  s.Persisted,
		Pruned:     s.Pruned,
		Errors:     make([]string, 0, len(s.Errors)),
	}
	for _, err := range s.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}
