package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffkit/internal/journal"
)

func TestNewJournalStore_BadURL(t *testing.T) {
	_, err := NewJournalStore(context.Background(), Config{URL: "://nope"})
	require.Error(t, err)
}

func TestNewJournalStore_DefaultPrefix(t *testing.T) {
	s := newJournalStore(nil, Config{})
	assert.Equal(t, "backoff:journal:entries", s.entriesKey())
	assert.Equal(t, "backoff:journal:reasons", s.reasonsKey())
}

func TestJournalStore_Integration(t *testing.T) {
	url := os.Getenv("BACKOFFKIT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BACKOFFKIT_TEST_REDIS_URL is not set")
	}
	ctx := context.Background()
	s, err := NewJournalStore(ctx, Config{URL: url, Prefix: "backoffkit:test:" + uuid.NewString(), Capacity: 2})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Reset(context.Background())
		_ = s.Close()
	})

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, e := range []journal.Entry{
		{ID: uuid.New(), Operation: "a", Reason: "ExhaustedLimit", Attempt: 3, CreatedAt: now},
		{ID: uuid.New(), Operation: "b", Reason: "Unrecoverable", Attempt: 1, CreatedAt: now},
		{ID: uuid.New(), Operation: "c", Reason: "ExhaustedLimit", Attempt: 3, CreatedAt: now,
			Attempts: []journal.AttemptRecord{{Attempt: 1, Error: "x", At: now}}},
	} {
		require.NoError(t, s.Append(ctx, e))
	}

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Operation)
	assert.Equal(t, "b", got[1].Operation)
	assert.Equal(t, now, got[0].CreatedAt)
	require.Len(t, got[0].Attempts, 1)

	got, err = s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	counts, err := s.ReasonCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ExhaustedLimit": 2, "Unrecoverable": 1}, counts)
}
