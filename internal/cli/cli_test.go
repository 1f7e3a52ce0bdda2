package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffkit/internal/journal"
	"backoffkit/internal/platform/logger"
)

func TestAdminURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", adminURL(":8080"))
	assert.Equal(t, "http://10.0.0.1:9000", adminURL("10.0.0.1:9000"))
}

func TestFetchFailures_RetriesUnavailable(t *testing.T) {
	want := []journal.Entry{{ID: uuid.New(), Operation: "probe", Reason: "ExhaustedLimit", Attempt: 3}}
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/failures", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := fetchFailures(context.Background(), logger.Discard(), srv.URL+"/", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want[0].ID, got[0].ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchFailures_BadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"limit"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fetchFailures(context.Background(), logger.Discard(), srv.URL, 5000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestPrintFailures(t *testing.T) {
	var buf bytes.Buffer
	printFailures(&buf, []journal.Entry{{
		Operation: "probe",
		Reason:    "PeekTerminated",
		Attempt:   2,
		Error:     "status 503",
		Attempts:  []journal.AttemptRecord{{Attempt: 1, Error: "status 503"}},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})

	out := buf.String()
	assert.Contains(t, out, "OPERATION")
	assert.Contains(t, out, "PeekTerminated")
	assert.Contains(t, out, "status 503")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, n := range []string{"run", "once", "failures", "wait-db"} {
		assert.True(t, names[n], n)
	}
}
