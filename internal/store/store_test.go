package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcal/internal/calendar"
	"shipcal/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewForTesting(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersistEvent_RoundTripKeepsTimestampKind(t *testing.T) {
	// Given
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 15, 10, 30, 0, 0, time.FixedZone("EST", -5*3600))
	events := []model.ShippingEvent{
		{ID: "t", Title: "time", Timestamp: at, Carrier: "UPS", AccountName: model.StringPtr("acme")},
		{ID: "s", Title: "text", Timestamp: "2024-03-15T09:00:00"},
		{ID: "bad", Title: "bad text", Timestamp: "not-a-date"},
		{ID: "ms", Title: "epoch", Timestamp: int64(1710496800000)},
		{ID: "nil", Title: "missing"},
	}

	// When
	for _, ev := range events {
		require.NoError(t, s.PersistEvent(ctx, ev))
	}
	got, err := s.ListEvents(ctx)

	// Then
	require.NoError(t, err)
	require.Len(t, got, 5)

	ts, ok := got[0].Timestamp.(time.Time)
	require.True(t, ok)
	assert.True(t, at.Equal(ts))
	_, offset := ts.Zone()
	assert.Equal(t, -5*3600, offset)
	require.NotNil(t, got[0].AccountName)
	assert.Equal(t, "acme", *got[0].AccountName)
	assert.Equal(t, "UPS", got[0].Carrier)

	assert.Equal(t, "2024-03-15T09:00:00", got[1].Timestamp)
	assert.Equal(t, "not-a-date", got[2].Timestamp)
	assert.Equal(t, json.Number("1710496800000"), got[3].Timestamp)
	assert.Nil(t, got[4].Timestamp)
	assert.Nil(t, got[4].AccountName)
}

func TestListEvents_ValidatorSeesSameOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events := []model.ShippingEvent{
		{ID: "ok", Timestamp: "2024-03-15T09:00:00Z"},
		{ID: "bad", Timestamp: "garbage"},
		{ID: "ms", Timestamp: 1710496800000.0},
	}
	for _, ev := range events {
		require.NoError(t, s.PersistEvent(ctx, ev))
	}

	stored, err := s.ListEvents(ctx)
	require.NoError(t, err)

	before := calendar.Assign(events, calendar.Agenda)
	after := calendar.Assign(stored, calendar.Agenda)
	assert.Equal(t, before.InvalidIDs(), after.InvalidIDs())
	assert.Equal(t, before.Valid(), after.Valid())
}

func TestPersistEvent_UpsertKeepsInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistEvent(ctx, model.ShippingEvent{ID: "a", Title: "first", Timestamp: "2024-03-01"}))
	require.NoError(t, s.PersistEvent(ctx, model.ShippingEvent{ID: "b", Title: "second", Timestamp: "2024-03-02"}))
	require.NoError(t, s.PersistEvent(ctx, model.ShippingEvent{ID: "a", Title: "first, updated", Timestamp: "2024-03-03"}))

	got, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "first, updated", got[0].Title)
	assert.Equal(t, "2024-03-03", got[0].Timestamp)
	assert.Equal(t, "b", got[1].ID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPersistEvent_EmptyID(t *testing.T) {
	s := newTestStore(t)

	err := s.PersistEvent(context.Background(), model.ShippingEvent{Title: "anonymous"})

	var pe *PersistError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestPersistAll_ReportsFailuresAndContinues(t *testing.T) {
	s := newTestStore(t)

	written, errs := s.PersistAll(context.Background(), []model.ShippingEvent{
		{ID: "a", Timestamp: "2024-03-01"},
		{Title: "no id"},
		{ID: "c", Timestamp: "2024-03-03"},
	})

	assert.Equal(t, 2, written)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrEmptyID)
}

func TestPruneSource_RemovesOnlyStaleEventsOfThatSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, ev := range []model.ShippingEvent{
		{ID: "w1", Source: "warehouse"},
		{ID: "w2", Source: "warehouse"},
		{ID: "p1", Source: "port"},
	} {
		require.NoError(t, s.PersistEvent(ctx, ev))
	}

	deleted, err := s.PruneSource(ctx, "warehouse", []string{"w2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	warehouse, err := s.ListBySource(ctx, "warehouse")
	require.NoError(t, err)
	require.Len(t, warehouse, 1)
	assert.Equal(t, "w2", warehouse[0].ID)

	port, err := s.ListBySource(ctx, "port")
	require.NoError(t, err)
	assert.Len(t, port, 1)
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")
	s, err := NewForTesting(path)
	require.NoError(t, err)
	require.NoError(t, s.PersistEvent(context.Background(), model.ShippingEvent{ID: "kept"}))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
