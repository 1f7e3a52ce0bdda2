package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Journal drivers.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Probe struct {
		URL      string        `validate:"omitempty,url"`
		Method   string        `validate:"required,oneof=GET HEAD POST"`
		Timeout  time.Duration `validate:"gt=0"`
		Schedule string        `validate:"required"`
		Profile  string
	}
	Journal struct {
		Driver      string `validate:"required,oneof=none memory sqlite postgres redis"`
		SQLitePath  string `validate:"required_if=Driver sqlite"`
		PostgresDSN string `validate:"required_if=Driver postgres"`
		RedisURL    string `validate:"required_if=Driver redis"`
		Capacity    int    `validate:"min=1"`
	}
	Retry        Profile
	ProfilesFile string
	Profiles     map[string]Profile `validate:"dive"`
}

var validate = validator.New()

// Load reads configuration from environment variables and an optional .env file. Named retry
// profiles are read from RETRY_PROFILES_FILE when it is set.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from lookup. Load uses os.Getenv; tests pass a map.
func FromEnv(lookup func(string) string) (Config, error) {
	e := env{lookup: lookup}

	var c Config
	c.Env = e.str("ENV", "prod")
	c.HTTP.Addr = e.str("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(e.str("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(e.str("LOG_FILE_LEVEL", "debug"))
	c.Log.File = e.str("LOG_FILE", "")

	c.Probe.URL = e.str("PROBE_URL", "")
	c.Probe.Method = strings.ToUpper(e.str("PROBE_METHOD", "GET"))
	c.Probe.Timeout = e.duration("PROBE_TIMEOUT", 10*time.Second)
	c.Probe.Schedule = e.str("PROBE_SCHEDULE", "@every 30s")
	c.Probe.Profile = e.str("PROBE_PROFILE", "")

	c.Journal.Driver = strings.ToLower(e.str("JOURNAL_DRIVER", DriverMemory))
	c.Journal.SQLitePath = e.str("JOURNAL_SQLITE_PATH", "")
	c.Journal.PostgresDSN = e.str("JOURNAL_POSTGRES_DSN", "")
	c.Journal.RedisURL = e.str("JOURNAL_REDIS_URL", "")
	c.Journal.Capacity = e.int("JOURNAL_CAPACITY", 1000)

	c.Retry = Profile{
		Strategy:       strings.ToLower(e.str("RETRY_STRATEGY", StrategyExponential)),
		Base:           e.duration("RETRY_BASE", 0),
		Factor:         e.uint32("RETRY_FACTOR", 0),
		Multiplier:     e.float("RETRY_MULTIPLIER", 0),
		Limit:          e.uint32("RETRY_LIMIT", 0),
		Ceiling:        e.duration("RETRY_CEILING", 0),
		Budget:         e.duration("RETRY_BUDGET", 0),
		Jitter:         strings.ToLower(e.str("RETRY_JITTER", "none")),
		JitterFraction: e.float("RETRY_JITTER_FRACTION", 0),
	}.withDefaults()

	c.ProfilesFile = e.str("RETRY_PROFILES_FILE", "")
	if e.err != nil {
		return Config{}, e.err
	}
	if c.ProfilesFile != "" {
		profiles, err := LoadProfiles(c.ProfilesFile)
		if err != nil {
			return Config{}, err
		}
		c.Profiles = profiles
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.Probe.Profile != "" {
		if _, err := c.Profile(c.Probe.Profile); err != nil {
			return Config{}, err
		}
	}
	return c, nil
}

// Profile returns the named retry profile. "" and "default" select Retry.
func (c Config) Profile(name string) (Profile, error) {
	if name == "" || name == "default" {
		return c.Retry, nil
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("config: unknown retry profile %q", name)
	}
	return p, nil
}

// env collects the first parse error so Load can report it once.
type env struct {
	lookup func(string) string
	err    error
}

func (e *env) str(k, def string) string {
	if v := strings.TrimSpace(e.lookup(k)); v != "" {
		return v
	}
	return def
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v := e.str(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, err)
		return def
	}
	return d
}

func (e *env) int(k string, def int) int {
	v := e.str(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, err)
		return def
	}
	return n
}

// uint32 rejects negative and out-of-range values instead of letting them wrap.
func (e *env) uint32(k string, def uint32) uint32 {
	v := e.str(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		e.fail(k, err)
		return def
	}
	return uint32(n)
}

func (e *env) float(k string, def float64) float64 {
	v := e.str(k, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, err)
		return def
	}
	return f
}

func (e *env) fail(k string, err error) {
	e.err = errors.Join(e.err, fmt.Errorf("config: %s: %w", k, err))
}
