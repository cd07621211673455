package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcal/internal/config"
	"shipcal/internal/model"
	"shipcal/internal/refresh"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }

type stubLister struct {
	events []model.ShippingEvent
	err    error
}

func (l *stubLister) ListEvents(context.Context) ([]model.ShippingEvent, error) {
	return l.events, l.err
}

type stubRefresher struct {
	runs int
	last *refresh.Summary
}

func (r *stubRefresher) RunOnce(context.Context) refresh.Summary {
	r.runs++
	sum := refresh.Summary{Feeds: 2, Imported: 4, Persisted: 3, Errors: []error{errors.New("feed down: boom")}}
	r.last = &sum
	return sum
}

func (r *stubRefresher) Last() (refresh.Summary, bool) {
	if r.last == nil {
		return refresh.Summary{}, false
	}
	return *r.last, true
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.MaxEventsPerCell = 3
	cfg.Normalize()
	return cfg
}

func sampleEvents() []model.ShippingEvent {
	events := []model.ShippingEvent{
		{ID: "bad", Title: "broken", Timestamp: "garbage"},
		{ID: "early", Title: "early pickup", Timestamp: "2024-03-11T08:15:00Z", Carrier: "DHL"},
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		events = append(events, model.ShippingEvent{
			ID:        id,
			Title:     "delivery " + id,
			Timestamp: "2024-03-15T09:00:00Z",
			Carrier:   "UPS",
		})
	}
	return events
}

func newTestServer(cfg *config.Config, lister EventLister, opts ...Option) http.Handler {
	opts = append([]Option{WithClock(fixedNow)}, opts...)
	return NewServer(cfg, lister, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) ViewResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v ViewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func cellFor(t *testing.T, v ViewResponse, day string) CellDTO {
	t.Helper()
	for _, c := range v.Cells {
		if c.Day == day {
			return c
		}
	}
	t.Fatalf("no cell for %s", day)
	return CellDTO{}
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(testConfig(), &stubLister{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth_ProtectsAPIButNotHealth(t *testing.T) {
	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "ops", Password: "s3cret"}
	h := newTestServer(cfg, &stubLister{})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	rec := do(t, h, http.MethodGet, "/api/view", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	req.SetBasicAuth("ops", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/view", nil)
	req.SetBasicAuth("ops", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestView_MonthTruncatesCellsAndReportsInvalid(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{events: sampleEvents()})

	v := decodeView(t, do(t, h, http.MethodGet, "/api/view?granularity=month&date=2024-03-15", ""))

	assert.Equal(t, "month", v.Granularity)
	assert.Equal(t, "March 2024", v.Title)
	assert.Equal(t, "2024-02-25", v.WindowStart)
	assert.Equal(t, "2024-04-06", v.WindowEnd)
	assert.Len(t, v.Cells, 42)
	assert.Equal(t, []string{"bad"}, v.InvalidIDs)

	busy := cellFor(t, v, "2024-03-15")
	assert.True(t, busy.IsToday)
	assert.True(t, busy.InPeriod)
	require.Len(t, busy.Events, 3)
	assert.Equal(t, 2, busy.More)
	assert.Equal(t, []string{"a", "b", "c"}, []string{busy.Events[0].ID, busy.Events[1].ID, busy.Events[2].ID})

	assert.False(t, cellFor(t, v, "2024-02-25").InPeriod)
}

func TestView_WeekUsesHourSlots(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{events: sampleEvents()})

	v := decodeView(t, do(t, h, http.MethodGet, "/api/view?granularity=week&date=2024-03-15", ""))

	assert.Equal(t, "Mar 10 - Mar 16, 2024", v.Title)
	require.Len(t, v.Cells, 7)

	monday := cellFor(t, v, "2024-03-11")
	require.Len(t, monday.Hours, 1)
	assert.Equal(t, 8, monday.Hours[0].Hour)
	assert.Equal(t, "early", monday.Hours[0].Events[0].ID)

	friday := cellFor(t, v, "2024-03-15")
	require.Len(t, friday.Hours, 1)
	assert.Equal(t, 9, friday.Hours[0].Hour)
	assert.Len(t, friday.Hours[0].Events, 3)
	assert.Equal(t, 2, friday.Hours[0].More)
}

func TestView_AgendaHasNoWindow(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{events: sampleEvents()})

	v := decodeView(t, do(t, h, http.MethodGet, "/api/view?granularity=agenda", ""))

	assert.Empty(t, v.WindowStart)
	assert.Empty(t, v.Cells)
	require.Len(t, v.Agenda, 2)
	assert.Equal(t, "2024-03-11", v.Agenda[0].Day)
	assert.Equal(t, "2024-03-15", v.Agenda[1].Day)
	assert.True(t, v.Agenda[1].IsToday)
	assert.Len(t, v.Agenda[1].Events, 5)
}

func TestView_RejectsBadQuery(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/view?granularity=fortnight", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/view?date=15/03/2024", "").Code)
}

func TestView_ListerFailure(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{err: errors.New("disk gone")})

	rec := do(t, h, http.MethodGet, "/api/view", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestState_StartsOnTodayInDefaultView(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultView = "day"
	cfg.Normalize()
	h := newTestServer(cfg, &stubLister{events: sampleEvents()})

	v := decodeView(t, do(t, h, http.MethodGet, "/api/state", ""))

	assert.Equal(t, "day", v.Granularity)
	assert.Equal(t, "2024-03-15", v.Focus)
	assert.Equal(t, "Friday, March 15, 2024", v.Title)
	require.Len(t, v.Cells, 1)
}

func TestNav_TransitionsShareState(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{events: sampleEvents()})

	v := decodeView(t, do(t, h, http.MethodPost, "/api/nav", `{"action":"next"}`))
	assert.Equal(t, "2024-04-15", v.Focus)
	assert.Equal(t, "April 2024", v.Title)

	v = decodeView(t, do(t, h, http.MethodPost, "/api/nav", `{"action":"select","date":"2024-12-31"}`))
	assert.Equal(t, "2024-12-31", v.Focus)

	v = decodeView(t, do(t, h, http.MethodPost, "/api/nav", `{"action":"granularity","granularity":"Week"}`))
	assert.Equal(t, "week", v.Granularity)
	assert.Equal(t, "Dec 29, 2024 - Jan 4, 2025", v.Title)

	v = decodeView(t, do(t, h, http.MethodPost, "/api/nav", `{"action":"previous"}`))
	assert.Equal(t, "2024-12-24", v.Focus)

	v = decodeView(t, do(t, h, http.MethodPost, "/api/nav", `{"action":"today"}`))
	assert.Equal(t, "2024-03-15", v.Focus)

	state := decodeView(t, do(t, h, http.MethodGet, "/api/state", ""))
	assert.Equal(t, v.Focus, state.Focus)
	assert.Equal(t, "week", state.Granularity)
}

func TestNav_RejectsBadBodies(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{})

	for _, body := range []string{
		`{"action":"sideways"}`,
		`{"action":"select","date":"tomorrow"}`,
		`{"action":"granularity","granularity":"year"}`,
		`{"action":"next","extra":true}`,
		`not json`,
	} {
		rec := do(t, h, http.MethodPost, "/api/nav", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	// Rejected requests leave the state alone.
	v := decodeView(t, do(t, h, http.MethodGet, "/api/state", ""))
	assert.Equal(t, "2024-03-15", v.Focus)
}

func TestNav_WrongMethod(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{})

	rec := do(t, h, http.MethodGet, "/api/nav", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEvents_ListsValidity(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{events: sampleEvents()[:2]})

	rec := do(t, h, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []struct {
			ID        string     `json:"id"`
			Valid     bool       `json:"valid"`
			Reason    string     `json:"reason"`
			Timestamp any        `json:"timestamp"`
			At        *time.Time `json:"at"`
		} `json:"events"`
		InvalidIDs []string `json:"invalid_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Events, 2)
	assert.False(t, resp.Events[0].Valid)
	assert.Equal(t, "unparsable-timestamp", resp.Events[0].Reason)
	assert.Equal(t, "garbage", resp.Events[0].Timestamp)
	assert.Nil(t, resp.Events[0].At)
	assert.True(t, resp.Events[1].Valid)
	require.NotNil(t, resp.Events[1].At)
	assert.Equal(t, []string{"bad"}, resp.InvalidIDs)
}

func TestRefresh(t *testing.T) {
	h := newTestServer(testConfig(), &stubLister{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/refresh", "").Code)

	r := &stubRefresher{}
	h = newTestServer(testConfig(), &stubLister{}, WithRefresher(r))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/refresh", "").Code)

	rec := do(t, h, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Persisted int      `json:"persisted"`
		Errors    []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 3, sum.Persisted)
	assert.Equal(t, []string{"feed down: boom"}, sum.Errors)
	assert.Equal(t, 1, r.runs)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/refresh", "").Code)
}
