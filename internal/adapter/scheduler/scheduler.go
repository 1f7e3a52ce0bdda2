package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"backoffkit/pkg/backoff"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// CronJobID представляет идентификатор cron-задачи.
type CronJobID = cron.EntryID

// TickerJobID представляет идентификатор ticker-задачи.
type TickerJobID int

// OverlapPolicy определяет политику обработки перекрывающихся выполнений задач.
type OverlapPolicy int

const (
	// AllowOverlap разрешает параллельное выполнение задач (по умолчанию).
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает выполнение, если задача уже запущена.
	SkipIfRunning
	// DelayIfRunning ждет завершения предыдущего выполнения.
	DelayIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case SkipIfRunning:
		return "skip"
	case DelayIfRunning:
		return "delay"
	default:
		return "allow"
	}
}

// RetryOptions включает повторы внутри одного запуска задачи.
type RetryOptions struct {
	Strategy      backoff.Strategy
	IsRecoverable func(error) bool
	PeekRetry     backoff.PeekFunc
	Randomizer    backoff.Randomizer
	Sleep         backoff.SleepFunc
	// NewLogger вызывается на каждый запуск: логгер журнала хранит состояние одного запуска.
	NewLogger func(jobName string) backoff.Logger
}

// JobOptions содержит опции для настройки задач.
type JobOptions struct {
	// Name - имя задачи для логирования (необязательно).
	Name string
	// Timeout ограничивает весь запуск вместе с повторами.
	Timeout time.Duration
	// OverlapPolicy - политика обработки перекрывающихся выполнений.
	OverlapPolicy OverlapPolicy
	// Retry - nil означает одну попытку.
	Retry *RetryOptions
}

func (o JobOptions) name() string {
	if o.Name == "" {
		return "unnamed"
	}
	return o.Name
}

// jobWrapper оборачивает задачу с её опциями.
type jobWrapper struct {
	job     JobFunc
	options JobOptions
	handler *backoff.Handler
	running sync.Mutex // для контроля перекрытий
}

func newJobWrapper(job JobFunc, opts JobOptions) *jobWrapper {
	w := &jobWrapper{job: job, options: opts}
	if opts.Retry != nil {
		w.handler = backoff.NewHandler(opts.Retry.Randomizer)
	}
	return w
}

// attempt выполняет задачу один раз или через backoff.Handler, если заданы повторы.
func (w *jobWrapper) attempt(ctx context.Context) error {
	r := w.options.Retry
	if r == nil {
		return w.job(ctx)
	}
	p := backoff.Policy{
		IsRecoverable: r.IsRecoverable,
		PeekRetry:     r.PeekRetry,
		Sleep:         r.Sleep,
		Strategy:      r.Strategy,
	}
	if r.NewLogger != nil {
		p.Logger = r.NewLogger(w.options.name())
	}
	return w.handler.Do(ctx, w.job, p)
}

type tickerJob struct {
	id      TickerJobID
	cancel  context.CancelFunc
	wrapper *jobWrapper
}

// cronLogger адаптер cron.Logger поверх slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, kvAttrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	attrs := append([]slog.Attr{slog.Any("error", err)}, kvAttrs(keysAndValues)...)
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func kvAttrs(kv []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		attrs = append(attrs, slog.Any(key, kv[i+1]))
	}
	return attrs
}

// Scheduler управляет периодическими задачами.
type Scheduler struct {
	cron         *cron.Cron
	cronLog      cronLogger
	logger       *slog.Logger
	hooks        JobHooks
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	tickerJobs   map[TickerJobID]*tickerJob
	nextTickerID TickerJobID
	mu           sync.Mutex
	stopOnce     sync.Once
	startOnce    sync.Once
}

// JobHooks содержит необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart  func(jobName string)
	OnJobFinish func(jobName string, duration time.Duration, err error)
	OnJobError  func(jobName string, err error)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

// New создает планировщик с background контекстом.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает планировщик, который останавливается вместе с parentCtx.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With("component", "cron")}

	return &Scheduler{
		cron:         cron.New(cron.WithSeconds(), cron.WithLogger(cl)),
		cronLog:      cl,
		logger:       logger,
		hooks:        cfg.JobHooks,
		ctx:          ctx,
		cancel:       cancel,
		tickerJobs:   make(map[TickerJobID]*tickerJob),
		nextTickerID: 1,
	}
}

// AddCronJob добавляет задачу по cron-расписанию с опциями по умолчанию.
// Расписание с секундами: "0 30 * * * *", а также "@hourly", "@every 5m".
func (s *Scheduler) AddCronJob(schedule string, job JobFunc) (CronJobID, error) {
	return s.AddCronJobWithOptions(schedule, job, JobOptions{})
}

// AddCronJobWithOptions добавляет задачу по cron-расписанию с указанными опциями.
func (s *Scheduler) AddCronJobWithOptions(schedule string, job JobFunc, opts JobOptions) (CronJobID, error) {
	wrapper := newJobWrapper(job, opts)

	var chain cron.Chain
	switch opts.OverlapPolicy {
	case SkipIfRunning:
		chain = cron.NewChain(cron.SkipIfStillRunning(s.cronLog))
	case DelayIfRunning:
		chain = cron.NewChain(cron.DelayIfStillRunning(s.cronLog))
	default:
		chain = cron.NewChain()
	}

	id, err := s.cron.AddJob(schedule, chain.Then(cron.FuncJob(func() {
		// перекрытия уже обработаны цепочкой cron
		s.execute(wrapper, false)
	})))
	if err != nil {
		s.logger.Error("failed to add cron job", "schedule", schedule, "name", opts.Name, "error", err)
		return 0, err
	}

	s.logger.Info("cron job added", "schedule", schedule, "name", opts.Name,
		"overlap_policy", opts.OverlapPolicy.String(), "retry", opts.Retry != nil, "id", id)
	return id, nil
}

// AddTickerJob добавляет задачу с фиксированным интервалом с опциями по умолчанию.
func (s *Scheduler) AddTickerJob(interval time.Duration, job JobFunc) TickerJobID {
	return s.AddTickerJobWithOptions(interval, job, JobOptions{})
}

// AddTickerJobWithOptions добавляет задачу с фиксированным интервалом с указанными опциями.
func (s *Scheduler) AddTickerJobWithOptions(interval time.Duration, job JobFunc, opts JobOptions) TickerJobID {
	wrapper := newJobWrapper(job, opts)

	s.mu.Lock()
	id := s.nextTickerID
	s.nextTickerID++
	ctx, cancel := context.WithCancel(s.ctx)
	s.tickerJobs[id] = &tickerJob{id: id, cancel: cancel, wrapper: wrapper}
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		defer cancel()

		for {
			select {
			case <-ticker.C:
				s.execute(wrapper, true)
			case <-ctx.Done():
				s.logger.Debug("ticker job stopped", "name", opts.Name, "id", id)
				return
			}
		}
	}()

	s.logger.Info("ticker job added", "interval", interval, "name", opts.Name,
		"overlap_policy", opts.OverlapPolicy.String(), "retry", opts.Retry != nil, "id", id)
	return id
}

// RunOnce синхронно выполняет задачу с опциями opts (таймаут, повторы, хуки) и
// возвращает её ошибку. Планировщик для этого запускать не нужно.
func (s *Scheduler) RunOnce(ctx context.Context, job JobFunc, opts JobOptions) error {
	return s.run(ctx, newJobWrapper(job, opts))
}

// RemoveCronJob удаляет cron-задачу по ID.
func (s *Scheduler) RemoveCronJob(id CronJobID) {
	s.cron.Remove(id)
	s.logger.Info("cron job removed", "id", id)
}

// RemoveTickerJob удаляет ticker-задачу по ID.
func (s *Scheduler) RemoveTickerJob(id TickerJobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.tickerJobs[id]
	if !exists {
		return false
	}
	job.cancel()
	delete(s.tickerJobs, id)

	s.logger.Info("ticker job removed", "id", id, "name", job.wrapper.options.Name)
	return true
}

// Start запускает планировщик. Повторный вызов ничего не делает.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()

		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждет завершения всех задач.
func (s *Scheduler) Stop() {
	if !s.IsRunning() {
		return
	}
	s.logger.Info("stopping scheduler")
	s.cancel()
	s.stopOnce.Do(s.stop)
}

// StopContext останавливает планировщик, ожидая задачи не дольше дедлайна ctx.
// Остановка в любом случае доводится до конца; при истёкшем ctx возвращается его ошибка.
func (s *Scheduler) StopContext(ctx context.Context) error {
	if !s.IsRunning() {
		return nil
	}

	s.logger.Info("stopping scheduler with deadline")
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, but shutdown will complete")
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for _, job := range s.tickerJobs {
		job.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// execute применяет политику перекрытий (для ticker-задач) и запускает задачу.
func (s *Scheduler) execute(w *jobWrapper, guardOverlap bool) {
	if guardOverlap {
		switch w.options.OverlapPolicy {
		case SkipIfRunning:
			if !w.running.TryLock() {
				s.logger.Debug("skipping job execution, already running", "name", w.options.name())
				return
			}
			defer w.running.Unlock()
		case DelayIfRunning:
			w.running.Lock()
			defer w.running.Unlock()
		}
	}
	_ = s.run(s.ctx, w)
}

// run выполняет один запуск задачи: таймаут, повторы, хуки, восстановление после паники.
func (s *Scheduler) run(parent context.Context, w *jobWrapper) (err error) {
	jobName := w.options.name()

	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(jobName)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", "name", jobName, "panic", r)
			if s.hooks.OnJobError != nil {
				s.hooks.OnJobError(jobName, err)
			}
		}
	}()

	ctx := parent
	if w.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, w.options.Timeout)
		defer cancel()
	}

	start := time.Now()
	err = w.attempt(ctx)
	duration := time.Since(start)

	if s.hooks.OnJobFinish != nil {
		s.hooks.OnJobFinish(jobName, duration, err)
	}

	if err != nil {
		s.logger.Error("job failed", "name", jobName, "error", err, "duration", duration)
		if s.hooks.OnJobError != nil {
			s.hooks.OnJobError(jobName, err)
		}
	} else {
		s.logger.Debug("job completed successfully", "name", jobName, "duration", duration)
	}
	return err
}

// IsRunning возвращает false после остановки планировщика или отмены его контекста.
func (s *Scheduler) IsRunning() bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
		return true
	}
}
