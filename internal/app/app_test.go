package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffkit/internal/app"
	"backoffkit/internal/config"
	"backoffkit/internal/journal"
	"backoffkit/internal/platform/httpclient"
	"backoffkit/internal/platform/logger"
	"backoffkit/pkg/backoff/backofftest"
)

// target answers with status and counts the requests it received.
func target(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	base := map[string]string{
		"ENV":            "dev",
		"HTTP_ADDR":      "127.0.0.1:0",
		"PROBE_SCHEDULE": "@every 1h",
		"RETRY_STRATEGY": "constant",
		"RETRY_BASE":     "10ms",
		"RETRY_LIMIT":    "3",
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.FromEnv(func(k string) string { return base[k] })
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, logger.Discard(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func get(t *testing.T, a *app.App, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOnce_Succeeds(t *testing.T) {
	srv, hits := target(t, http.StatusOK)
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL}))

	require.NoError(t, a.Once(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	entries, err := a.Journal().List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOnce_RetriesAndJournalsExhaustion(t *testing.T) {
	srv, hits := target(t, http.StatusServiceUnavailable)
	sl := &backofftest.Sleeper{}
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL}), app.WithSleep(sl.Sleep))

	err := a.Once(context.Background())
	var herr *httpclient.HTTPError
	require.True(t, errors.As(err, &herr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, herr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	assert.Len(t, sl.Calls(), 2)

	entries, err := a.Journal().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "probe", entries[0].Operation)
	assert.Equal(t, "ExhaustedLimit", entries[0].Reason)
	assert.Equal(t, uint32(3), entries[0].Attempt)
	assert.Len(t, entries[0].Attempts, 2)
}

func TestOnce_HonoursRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	sl := &backofftest.Sleeper{}
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL}), app.WithSleep(sl.Sleep))
	require.Error(t, a.Once(context.Background()))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sl.Calls())

	sl = &backofftest.Sleeper{}
	capped := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL, "RETRY_CEILING": "1s"}), app.WithSleep(sl.Sleep))
	require.Error(t, capped.Once(context.Background()))
	assert.Empty(t, sl.Calls())

	entries, err := capped.Journal().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PeekTerminated", entries[0].Reason)
}

func TestOnce_AbandonedRunIsJournaled(t *testing.T) {
	srv, hits := target(t, http.StatusServiceUnavailable)
	sl := &backofftest.Sleeper{Err: context.DeadlineExceeded, FailAt: 0}
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL}), app.WithSleep(sl.Sleep))

	require.Error(t, a.Once(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	entries, err := a.Journal().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.ReasonAbandoned, entries[0].Reason)
	assert.Equal(t, uint32(1), entries[0].Attempt)
	assert.Len(t, entries[0].Attempts, 1)

	assert.Contains(t, get(t, a, "/metrics").Body.String(), `backoff_abandoned_total{operation="probe"} 1`)
}

func TestOnce_NotFoundIsNotRetried(t *testing.T) {
	srv, hits := target(t, http.StatusNotFound)
	sl := &backofftest.Sleeper{}
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL}), app.WithSleep(sl.Sleep))

	err := a.Once(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Empty(t, sl.Calls())

	entries, err := a.Journal().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Unrecoverable", entries[0].Reason)
}

func TestOnce_WithoutTarget(t *testing.T) {
	a := newApp(t, testConfig(t, nil))
	err := a.Once(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROBE_URL")
}

func TestOnce_CustomTransport(t *testing.T) {
	var calls int32
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "backoffprobe", r.Header.Get("User-Agent"))
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: r}, nil
	})
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": "http://probe.invalid/health"}), app.WithTransport(rt))

	require.NoError(t, a.Once(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRouter_Health(t *testing.T) {
	a := newApp(t, testConfig(t, nil))

	rec := get(t, a, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.DriverMemory, body["journal"])
}

func TestRouter_FailuresAndMetrics(t *testing.T) {
	srv, _ := target(t, http.StatusBadGateway)
	sl := &backofftest.Sleeper{}
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL}), app.WithSleep(sl.Sleep))
	require.Error(t, a.Once(context.Background()))

	rec := get(t, a, "/failures?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "ExhaustedLimit", entries[0].Reason)

	rec = get(t, a, "/failures/reasons")
	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, map[string]int64{"ExhaustedLimit": 1}, counts)

	rec = get(t, a, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()
	assert.Contains(t, metrics, `backoff_retries_total{operation="probe"} 2`)
	assert.Contains(t, metrics, `backoff_terminal_total{operation="probe",reason="ExhaustedLimit"} 1`)
	assert.True(t, strings.Contains(metrics, "go_goroutines"), "runtime collectors are registered")
}

func TestRouter_FailuresBadLimit(t *testing.T) {
	a := newApp(t, testConfig(t, nil))

	for _, q := range []string{"limit=abc", "limit=-1", "limit=5000"} {
		rec := get(t, a, "/failures?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := get(t, a, "/failures")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSQLiteJournal_ReadOnlyReopen(t *testing.T) {
	srv, _ := target(t, http.StatusInternalServerError)
	sl := &backofftest.Sleeper{}
	cfg := testConfig(t, map[string]string{
		"PROBE_URL":           srv.URL,
		"JOURNAL_DRIVER":      "sqlite",
		"JOURNAL_SQLITE_PATH": filepath.Join(t.TempDir(), "journal.db"),
	})

	a, err := app.New(context.Background(), cfg, logger.Discard(), app.WithSleep(sl.Sleep))
	require.NoError(t, err)
	require.Error(t, a.Once(context.Background()))
	require.NoError(t, a.Close())

	ro := newApp(t, cfg, app.ReadOnly())
	entries, err := ro.Journal().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "probe", entries[0].Operation)
	assert.Len(t, entries[0].Attempts, 2)

	assert.Equal(t, http.StatusOK, get(t, ro, "/healthz").Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv, _ := target(t, http.StatusOK)
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestRun_BadSchedule(t *testing.T) {
	srv, _ := target(t, http.StatusOK)
	a := newApp(t, testConfig(t, map[string]string{"PROBE_URL": srv.URL, "PROBE_SCHEDULE": "not a schedule"}))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule probe")
}
