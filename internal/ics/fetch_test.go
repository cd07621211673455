package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOne_ConditionalRequestReusesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{ID: "w", URL: srv.URL + "/feed.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, sampleFeed, string(first.Body))

	second, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchOne_ServerErrorFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{ID: "w", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, sampleFeed, string(res.Body))
}

func TestFetchOne_ServerErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewFetcher(t.TempDir()).FetchOne(context.Background(), Feed{ID: "w", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFetchOne_NotModifiedWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	_, err := NewFetcher(t.TempDir()).FetchOne(context.Background(), Feed{ID: "w", URL: srv.URL})
	assert.ErrorIs(t, err, ErrNotModifiedWithoutCache)
}

func TestFetchOne_OversizedBodyKeepsCache(t *testing.T) {
	var big atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if big.Load() {
			w.Header().Set("ETag", `"v2"`)
			_, _ = w.Write([]byte(strings.Repeat("X", len(sampleFeed)+1)))
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	f.maxBytes = int64(len(sampleFeed))
	feed := Feed{ID: "w", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)

	big.Store(true)
	res, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, sampleFeed, string(res.Body))

	meta, err := loadMeta(f.cachePath(feed.URL))
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, meta.ETag)
}

func TestFetchOne_OversizedBodyWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	f.maxBytes = 16

	_, err := f.FetchOne(context.Background(), Feed{ID: "w", URL: srv.URL})
	assert.ErrorIs(t, err, ErrFeedTooLarge)
}

func TestFetchAll_WrapsFailuresPerFeed(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer ok.Close()

	f := NewFetcher(t.TempDir())
	results, errs := f.FetchAll(context.Background(), []Feed{
		{ID: "good", URL: ok.URL},
		{ID: "missing-url"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].Feed.ID)
	require.Len(t, errs, 1)
	var fe *FeedError
	require.True(t, errors.As(errs[0], &fe))
	assert.Equal(t, "missing-url", fe.FeedID)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/private/abc123.ics"))
	assert.Equal(t, "feed://...(redacted)", redactURL("not a url"))
}
