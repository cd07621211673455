package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"shipcal/internal/calendar"
	"shipcal/internal/config"
	appLog "shipcal/internal/log"
	"shipcal/internal/model"
	"shipcal/internal/refresh"
)

const eventsCacheTTL = 5 * time.Second

// EventLister supplies the events to render. *store.Store implements it.
type EventLister interface {
	ListEvents(ctx context.Context) ([]model.ShippingEvent, error)
}

// Refresher runs a feed import on demand. *refresh.Runner implements it.
type Refresher interface {
	RunOnce(ctx context.Context) refresh.Summary
	Last() (refresh.Summary, bool)
}

// Server provides the calendar HTTP API. It owns one navigation state,
// shared by every client of the process.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	events    EventLister
	refresher Refresher

	loc       *time.Location
	now       func() time.Time
	validator calendar.Validator
	resolver  calendar.Resolver

	// navMu serializes transitions; the view for a transition is built
	// under the same lock.
	navMu sync.Mutex
	nav   *calendar.Navigator

	// Short-lived copy of the store contents so rapid navigation does not
	// hit SQLite on every click.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

type eventsCache struct {
	events    []model.ShippingEvent
	updatedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for "today".
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithRefresher enables POST /api/refresh.
func WithRefresher(r Refresher) Option {
	return func(s *Server) {
		s.refresher = r
	}
}

// NewServer constructs a Server rendering the events from lister.
func NewServer(cfg *config.Config, lister EventLister, opts ...Option) *Server {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}

	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		events:   lister,
		loc:      loc,
		now:      time.Now,
		resolver: calendar.Resolver{WeekStart: cfg.Weekday()},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = calendar.Validator{Location: s.loc}
	s.nav = calendar.NewNavigator(
		calendar.WithClock(func() time.Time { return s.now().In(s.loc) }),
		calendar.WithResolver(s.resolver),
		calendar.WithGranularity(cfg.Granularity()),
	)

	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="shipcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/view", s.handleView)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/nav", s.handleNav)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/refresh", s.handleLastRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleView renders an arbitrary period without touching the shared
// navigation state.
//
// GET /api/view?granularity=week&date=2024-03-15
//   - granularity: month, week, day or agenda (default: config default_view)
//   - date:        focus day as YYYY-MM-DD (default: today)
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	g := s.cfg.Granularity()
	if raw := q.Get("granularity"); raw != "" {
		parsed, err := calendar.ParseGranularity(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		g = parsed
	}

	focus := s.today()
	if raw := q.Get("date"); raw != "" {
		d, err := calendar.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		focus = d
	}

	events, err := s.loadEvents(r.Context())
	if err != nil {
		appLog.Error("api view: list events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	view := s.build(events, calendar.State{Granularity: g, Focus: focus})
	writeJSON(w, http.StatusOK, s.present(view))
}

// handleState renders the shared navigation state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	events, err := s.loadEvents(r.Context())
	if err != nil {
		appLog.Error("api state: list events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	s.navMu.Lock()
	view := s.build(events, s.nav.State())
	s.navMu.Unlock()

	writeJSON(w, http.StatusOK, s.present(view))
}

// navRequest is the POST /api/nav body.
type navRequest struct {
	Action      string `json:"action"`
	Date        string `json:"date,omitempty"`
	Granularity string `json:"granularity,omitempty"`
}

var errBadAction = errors.New("action must be previous, next, today, select or granularity")

func (req navRequest) toAction() (calendar.Action, error) {
	a := calendar.Action{Kind: calendar.ActionKind(req.Action)}
	switch a.Kind {
	case calendar.ActionPrevious, calendar.ActionNext, calendar.ActionToday:
	case calendar.ActionSelect:
		d, err := calendar.ParseDate(req.Date)
		if err != nil {
			return a, errors.New("select needs date as YYYY-MM-DD")
		}
		a.Date = d
	case calendar.ActionGranularity:
		g, err := calendar.ParseGranularity(req.Granularity)
		if err != nil {
			return a, err
		}
		a.Granularity = g
	default:
		return a, errBadAction
	}
	return a, nil
}

// handleNav applies one navigation transition and returns the new view.
//
// POST /api/nav {"action":"next"}
// POST /api/nav {"action":"select","date":"2024-03-15"}
// POST /api/nav {"action":"granularity","granularity":"week"}
func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	var req navRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	action, err := req.toAction()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.loadEvents(r.Context())
	if err != nil {
		appLog.Error("api nav: list events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	s.navMu.Lock()
	state := s.nav.Apply(action)
	view := s.build(events, state)
	s.navMu.Unlock()

	appLog.Debug("navigation", "action", req.Action, "granularity", state.Granularity, "focus", state.Focus.String())
	writeJSON(w, http.StatusOK, s.present(view))
}

// handleEvents lists the stored events with their validation outcome.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.loadEvents(r.Context())
	if err != nil {
		appLog.Error("api events: list events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	resp := eventsResponse{Events: make([]storedEventDTO, 0, len(events)), InvalidIDs: []string{}}
	for _, ev := range events {
		dto := storedEventDTO{EventDTO: toEventDTO(ev), Timestamp: ev.Timestamp, Valid: true}
		valid, report := s.validator.Validate(ev)
		if report != nil {
			dto.Valid = false
			dto.Reason = string(report.Reason)
			resp.InvalidIDs = append(resp.InvalidIDs, ev.ID)
		} else {
			at := valid.At
			dto.At = &at
		}
		resp.Events = append(resp.Events, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh imports every feed now and returns the run summary.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}

	sum := s.refresher.RunOnce(r.Context())
	s.invalidateEvents()
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// handleLastRefresh returns the most recent refresh summary.
func (s *Server) handleLastRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}
	sum, ok := s.refresher.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no refresh has run yet")
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

func (s *Server) today() calendar.Date {
	return calendar.DateOf(s.now().In(s.loc))
}

// build computes a view and logs what the engine reported.
func (s *Server) build(events []model.ShippingEvent, state calendar.State) calendar.View {
	view := calendar.Build(events, state, calendar.Options{
		Validator: s.validator,
		Resolver:  s.resolver,
		Today:     s.today(),
	})

	for _, rep := range view.Invalid {
		appLog.Warn("event excluded from view", "id", rep.Event.ID, "reason", rep.Reason, "cause", rep.Cause)
	}
	if view.FellBack {
		appLog.Error("unknown granularity; rendered month instead", calendar.ErrUnknownGranularity,
			"granularity", state.Granularity)
	}
	return view
}

// loadEvents returns the store contents, cached for eventsCacheTTL.
func (s *Server) loadEvents(ctx context.Context) ([]model.ShippingEvent, error) {
	now := time.Now()

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && now.Sub(ec.updatedAt) < eventsCacheTTL {
		return ec.events, nil
	}

	events, err := s.events.ListEvents(ctx)
	if err != nil {
		return nil, err
	}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{events: events, updatedAt: now}
	s.eventsMu.Unlock()
	return events, nil
}

func (s *Server) invalidateEvents() {
	s.eventsMu.Lock()
	s.eventsCache = nil
	s.eventsMu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
