package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffkit/pkg/backoff"
	"backoffkit/pkg/backoff/jitter"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := FromEnv(lookup(nil))
	require.NoError(t, err)

	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, "GET", c.Probe.Method)
	assert.Equal(t, 10*time.Second, c.Probe.Timeout)
	assert.Equal(t, DriverMemory, c.Journal.Driver)

	s, err := c.Retry.NewStrategy()
	require.NoError(t, err)
	assert.Equal(t, backoff.DefaultExponential(), s)

	r, err := c.Retry.NewRandomizer()
	require.NoError(t, err)
	assert.Equal(t, backoff.NoRandomization{}, r)
}

func TestFromEnv_RetryProfile(t *testing.T) {
	c, err := FromEnv(lookup(map[string]string{
		"RETRY_STRATEGY": "linear",
		"RETRY_BASE":     "50ms",
		"RETRY_LIMIT":    "4",
		"RETRY_CEILING":  "120ms",
		"RETRY_BUDGET":   "1s",
		"RETRY_JITTER":   "Full",
	}))
	require.NoError(t, err)

	s, err := c.Retry.NewStrategy()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), s.Limit())

	d, ok := s.Interval(3)
	require.True(t, ok)
	assert.Equal(t, 120*time.Millisecond, d, "capped")

	r, err := c.Retry.NewRandomizer()
	require.NoError(t, err)
	assert.IsType(t, &jitter.Full{}, r)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad env", map[string]string{"ENV": "staging"}},
		{"bad level", map[string]string{"LOG_CONSOLE_LEVEL": "loud"}},
		{"bad duration", map[string]string{"PROBE_TIMEOUT": "soon"}},
		{"bad int", map[string]string{"RETRY_LIMIT": "many"}},
		{"negative limit", map[string]string{"RETRY_LIMIT": "-1"}},
		{"negative factor", map[string]string{"RETRY_FACTOR": "-2"}},
		{"limit overflow", map[string]string{"RETRY_LIMIT": "4294967296"}},
		{"bad url", map[string]string{"PROBE_URL": "not a url"}},
		{"bad method", map[string]string{"PROBE_METHOD": "DELETE"}},
		{"sqlite without path", map[string]string{"JOURNAL_DRIVER": "sqlite"}},
		{"postgres without dsn", map[string]string{"JOURNAL_DRIVER": "postgres"}},
		{"redis without url", map[string]string{"JOURNAL_DRIVER": "redis"}},
		{"unknown driver", map[string]string{"JOURNAL_DRIVER": "mongo"}},
		{"unknown strategy", map[string]string{"RETRY_STRATEGY": "fibonacci"}},
		{"unknown jitter", map[string]string{"RETRY_JITTER": "gaussian"}},
		{"unknown probe profile", map[string]string{"PROBE_PROFILE": "missing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(lookup(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_NegativeLimitNamesVariable(t *testing.T) {
	_, err := FromEnv(lookup(map[string]string{"RETRY_LIMIT": "-1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETRY_LIMIT")
}

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfiles(t *testing.T) {
	t.Setenv("PROBE_LIMIT", "7")
	path := writeProfiles(t, `
profiles:
  http:
    strategy: geometric
    base: 200ms
    limit: ${PROBE_LIMIT}
    ceiling: 1s
    jitter: proportional
  db:
    strategy: constant
    base: 1s
  quick: {}
`)

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	http := profiles["http"]
	assert.Equal(t, uint32(7), http.Limit)
	assert.Equal(t, 2.0, http.Multiplier)
	assert.Equal(t, 0.2, http.JitterFraction)

	s, err := http.NewStrategy()
	require.NoError(t, err)
	d, _ := s.Interval(5)
	assert.Equal(t, time.Second, d)

	db := profiles["db"]
	assert.Equal(t, uint32(10), db.Limit)

	quick, err := profiles["quick"].NewStrategy()
	require.NoError(t, err)
	assert.Equal(t, backoff.DefaultExponential(), quick)
}

func TestLoadProfiles_Errors(t *testing.T) {
	_, err := LoadProfiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadProfiles(writeProfiles(t, "profiles: [not, a, map]"))
	assert.Error(t, err)

	_, err = LoadProfiles(writeProfiles(t, "profiles:\n  x:\n    strategy: nope\n"))
	assert.Error(t, err)

	_, err = LoadProfiles(writeProfiles(t, "profiles:\n  x:\n    jitter_fraction: 3\n"))
	assert.Error(t, err)
}

func TestProfileSelection(t *testing.T) {
	path := writeProfiles(t, "profiles:\n  slow:\n    strategy: linear\n    base: 1s\n")
	c, err := FromEnv(lookup(map[string]string{
		"RETRY_PROFILES_FILE": path,
		"PROBE_PROFILE":       "slow",
	}))
	require.NoError(t, err)

	p, err := c.Profile("slow")
	require.NoError(t, err)
	assert.Equal(t, StrategyLinear, p.Strategy)

	def, err := c.Profile("default")
	require.NoError(t, err)
	assert.Equal(t, c.Retry, def)

	_, err = c.Profile("nope")
	assert.Error(t, err)
}
