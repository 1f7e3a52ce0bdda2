package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"backoffkit/internal/adapter/scheduler"
	"backoffkit/internal/classify"
	"backoffkit/internal/config"
	"backoffkit/internal/journal"
	"backoffkit/internal/metrics"
	"backoffkit/internal/platform/httpclient"
	"backoffkit/pkg/backoff"
)

// probeName names the probe in logs, the journal and metrics.
const probeName = "probe"

// App wires application components.
type App struct {
	cfg      config.Config
	log      *slog.Logger
	store    *store
	journal  *journal.Journal
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	probe    *Probe
	sleep    backoff.SleepFunc
}

// Option configures App.
type Option func(*options)

type options struct {
	readOnly  bool
	transport http.RoundTripper
	sleep     backoff.SleepFunc
}

// ReadOnly opens the journal for reading only: no migrations, SQLite opened with mode=ro.
func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithTransport replaces the probe's HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithSleep replaces the pause between probe retries.
func WithSleep(f backoff.SleepFunc) Option {
	return func(o *options) { o.sleep = f }
}

// New opens the journal store and builds the probe. Close releases the store.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = slog.Default()
	}

	st, err := openStore(ctx, cfg, log, o.readOnly)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		journal:  journal.New(st, log.With("component", "journal")),
		registry: reg,
		metrics:  metrics.NewCollectors(reg),
		sleep:    o.sleep,
	}

	if cfg.Probe.URL != "" {
		copts := []httpclient.Option{
			httpclient.WithLogger(log.With("component", "probe")),
			httpclient.WithTimeout(cfg.Probe.Timeout),
			httpclient.WithHeaders(map[string]string{"User-Agent": "backoffprobe"}),
		}
		if o.transport != nil {
			copts = append(copts, httpclient.WithTransport(o.transport))
		}
		a.probe = NewProbe(httpclient.New(copts...), cfg.Probe.Method, cfg.Probe.URL)
	}
	return a, nil
}

// Close releases the journal store.
func (a *App) Close() error {
	return a.store.Close()
}

// Registry exposes the metrics registry served on /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Journal returns the journal of terminal failures.
func (a *App) Journal() *journal.Journal { return a.journal }

// retryOptions builds the probe's retry policy from the configured profile.
func (a *App) retryOptions() (*scheduler.RetryOptions, error) {
	p, err := a.cfg.Profile(a.cfg.Probe.Profile)
	if err != nil {
		return nil, err
	}
	s, err := p.NewStrategy()
	if err != nil {
		return nil, err
	}
	r, err := p.NewRandomizer()
	if err != nil {
		return nil, err
	}
	return &scheduler.RetryOptions{
		Strategy:      s,
		Randomizer:    r,
		IsRecoverable: classify.Default(),
		PeekRetry:     classify.ServerHintPeek(p.Ceiling),
		Sleep:         a.sleep,
		NewLogger:     a.newLogger,
	}, nil
}

// newLogger fans one run's failures out to slog, the journal and metrics.
func (a *App) newLogger(operation string) backoff.Logger {
	return backoff.MultiLogger{
		backoffLogger(a.log, operation),
		a.journal.Run(operation),
		a.metrics.Logger(operation),
	}
}

func backoffLogger(log *slog.Logger, operation string) backoff.Logger {
	return backoff.NewSlogLogger(log, operation)
}

func (a *App) probeJob() (scheduler.JobFunc, scheduler.JobOptions, error) {
	if a.probe == nil {
		return nil, scheduler.JobOptions{}, errors.New("probe target is not configured (PROBE_URL)")
	}
	retry, err := a.retryOptions()
	if err != nil {
		return nil, scheduler.JobOptions{}, err
	}
	return a.probe.Check, scheduler.JobOptions{
		Name:          probeName,
		Timeout:       a.probeTimeout(retry.Strategy),
		OverlapPolicy: scheduler.SkipIfRunning,
		Retry:         retry,
	}, nil
}

// probeTimeout bounds a whole run: every attempt may take Probe.Timeout, plus one minute for
// the pauses in between.
func (a *App) probeTimeout(s backoff.Strategy) time.Duration {
	return time.Duration(s.Limit())*a.cfg.Probe.Timeout + time.Minute
}

// Once runs a single probe with retries and returns its result.
func (a *App) Once(ctx context.Context) error {
	job, opts, err := a.probeJob()
	if err != nil {
		return err
	}
	return scheduler.New(scheduler.Config{Logger: a.log}).RunOnce(ctx, job, opts)
}

// Run schedules the probe, serves the admin API and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting", "addr", a.cfg.HTTP.Addr, "journal", a.store.driver, "target", a.cfg.Probe.URL)

	job, opts, err := a.probeJob()
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Config{Logger: a.log})
	if _, err := sched.AddCronJobWithOptions(a.cfg.Probe.Schedule, job, opts); err != nil {
		return fmt.Errorf("schedule probe: %w", err)
	}
	sched.Start()

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			a.log.Error("server", slog.Any("err", err))
			_ = sched.StopContext(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.StopContext(shutdownCtx); err != nil {
		a.log.Warn("scheduler stop", slog.Any("err", err))
	}
	return srv.Shutdown(shutdownCtx)
}
