package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shipcal/internal/calendar"
	"shipcal/internal/config"
	"shipcal/internal/ics"
	appLog "shipcal/internal/log"
	"shipcal/internal/model"
	"shipcal/internal/web"
)

var (
	viewGranularity string
	viewDate        string
	viewJSON        bool
	viewICS         string
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print one calendar view",
	Long:  "Render a month, week, day or agenda view of the stored events (or of a local .ics file) as text or JSON",
	RunE:  runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().StringVar(&viewGranularity, "granularity", "", "month, week, day or agenda (default: config default_view)")
	viewCmd.Flags().StringVar(&viewDate, "date", "", "Focus day as YYYY-MM-DD (default: today)")
	viewCmd.Flags().BoolVar(&viewJSON, "json", false, "Print the view as JSON")
	viewCmd.Flags().StringVar(&viewICS, "ics", "", "Render events from this .ics file instead of the store")
}

func runView(cmd *cobra.Command, args []string) error {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Warn("invalid timezone; using local", "timezone", cfg.Timezone)
	}
	now := time.Now().In(loc)

	g := cfg.Granularity()
	if viewGranularity != "" {
		if g, err = calendar.ParseGranularity(viewGranularity); err != nil {
			return err
		}
	}
	focus := calendar.DateOf(now)
	if viewDate != "" {
		if focus, err = calendar.ParseDate(viewDate); err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	events, err := loadViewEvents(cmd, now)
	if err != nil {
		return err
	}

	view := calendar.Build(events, calendar.State{Granularity: g, Focus: focus}, calendar.Options{
		Validator: calendar.Validator{Location: loc},
		Resolver:  calendar.Resolver{WeekStart: cfg.Weekday()},
		Today:     calendar.DateOf(now),
	})
	for _, rep := range view.Invalid {
		appLog.Warn("event excluded from view", "id", rep.Event.ID, "reason", rep.Reason, "cause", rep.Cause)
	}

	out := cmd.OutOrStdout()
	if viewJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(web.Present(view, cfg.MaxEventsPerCell))
	}
	renderText(out, view, cfg.MaxEventsPerCell)
	return nil
}

func loadViewEvents(cmd *cobra.Command, now time.Time) ([]model.ShippingEvent, error) {
	if viewICS != "" {
		payload, err := os.ReadFile(viewICS)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", viewICS, err)
		}
		return ics.ImportFeed(ics.Feed{ID: fileFeedID(viewICS)}, payload, expandOptions(cfg, now))
	}

	st, err := openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.ListEvents(cmd.Context())
}

func expandOptions(c *config.Config, now time.Time) ics.ExpandOptions {
	return ics.ExpandOptions{Now: now, HorizonDays: c.HorizonDays, BackfillDays: c.BackfillDays}
}

// renderText prints the non-empty parts of a view, one line per event.
func renderText(w io.Writer, v calendar.View, maxPerCell int) {
	fmt.Fprintf(w, "%s (%s)\n", v.Title, v.State.Granularity)

	printed := 0
	for _, c := range v.Cells {
		if c.Count() == 0 {
			continue
		}
		writeDay(w, c.Day, c.IsToday)
		if c.Hours == nil {
			writeEvents(w, c.Events, maxPerCell)
		}
		for _, evs := range c.Hours {
			writeEvents(w, evs, maxPerCell)
		}
		printed++
	}
	for _, d := range v.Agenda {
		writeDay(w, d.Day, d.IsToday)
		writeEvents(w, d.Events, 0)
		printed++
	}

	if printed == 0 {
		fmt.Fprintln(w, "\nno shipments")
	}
	if ids := v.InvalidIDs(); len(ids) > 0 {
		fmt.Fprintf(w, "\nskipped %d event(s) with unreadable timestamps: %s\n", len(ids), strings.Join(ids, ", "))
	}
}

func writeDay(w io.Writer, d calendar.Date, today bool) {
	mark := ""
	if today {
		mark = " (today)"
	}
	fmt.Fprintf(w, "\n%s %s%s\n", d, d.Weekday().String()[:3], mark)
}

func writeEvents(w io.Writer, events []calendar.ValidatedEvent, maxPerCell int) {
	shown, more := calendar.Truncate(events, maxPerCell)
	for _, ve := range shown {
		var b strings.Builder
		fmt.Fprintf(&b, "  %s %s", ve.At.Format("15:04"), ve.Event.Title)
		if ve.Event.Carrier != "" {
			fmt.Fprintf(&b, " [%s]", ve.Event.Carrier)
		}
		if ve.Event.Status != "" {
			fmt.Fprintf(&b, " %s", ve.Event.Status)
		}
		if ve.Event.TrackingNumber != "" {
			fmt.Fprintf(&b, " #%s", ve.Event.TrackingNumber)
		}
		fmt.Fprintln(w, b.String())
	}
	if more > 0 {
		fmt.Fprintf(w, "  +%d more\n", more)
	}
}
