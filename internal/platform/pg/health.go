package pg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"backoffkit/pkg/backoff"
)

// WaitStrategy определяет рост задержки между попытками подключения.
type WaitStrategy int

const (
	// LinearWait - Interval, 2*Interval, 3*Interval...
	LinearWait WaitStrategy = iota
	// ExponentialWait - Interval*(2*attempt)
	ExponentialWait
)

// HealthCheckOptions содержит опции ожидания БД.
type HealthCheckOptions struct {
	// MaxAttempts - число попыток подключения (0 = до отмены контекста)
	MaxAttempts uint32
	// Interval - база для расчёта задержки
	Interval time.Duration
	// MaxInterval - потолок задержки (0 = без потолка)
	MaxInterval time.Duration
	Wait        WaitStrategy
	// PingTimeout - таймаут одной попытки
	PingTimeout time.Duration
	Randomizer  backoff.Randomizer
	Logger      backoff.Logger
}

// DefaultHealthCheckOptions возвращает опции по умолчанию.
func DefaultHealthCheckOptions() HealthCheckOptions {
	return HealthCheckOptions{
		MaxAttempts: 10,
		Interval:    500 * time.Millisecond,
		MaxInterval: 30 * time.Second,
		Wait:        ExponentialWait,
		PingTimeout: 5 * time.Second,
	}
}

// Strategy собирает backoff.Strategy из опций.
func (o HealthCheckOptions) Strategy() backoff.Strategy {
	limit := o.MaxAttempts
	if limit == 0 {
		limit = math.MaxUint32
	}
	var s backoff.Strategy
	switch o.Wait {
	case LinearWait:
		s = backoff.Linear{Base: o.Interval, MaxAttempts: limit}
	default:
		s = backoff.Exponential{Base: o.Interval, Factor: 2, MaxAttempts: limit}
	}
	if o.MaxInterval > 0 {
		s = backoff.Capped{Strategy: s, Ceiling: o.MaxInterval}
	}
	return s
}

// pingFunc подменяется в тестах.
var pingFunc = pingDatabase

var sleepFunc backoff.SleepFunc = backoff.SleepContext

// WaitForDB ждёт, пока БД начнёт принимать подключения. Ошибки аутентификации и
// отсутствующая база не повторяются.
func WaitForDB(ctx context.Context, dsn string, opts HealthCheckOptions) error {
	h := backoff.NewHandler(opts.Randomizer)
	err := h.Do(ctx, func(ctx context.Context) error {
		return pingFunc(ctx, dsn, opts.PingTimeout)
	}, backoff.Policy{
		IsRecoverable: Recoverable,
		Strategy:      opts.Strategy(),
		Logger:        opts.Logger,
		Sleep:         sleepFunc,
	})
	if err != nil {
		return fmt.Errorf("database not available: %w", err)
	}
	return nil
}

// fatalSQLStates - классы ошибок, которые не исчезнут при повторе:
// 28 - авторизация, 3D - нет такой базы.
var fatalSQLStates = []string{"28", "3D"}

// Recoverable сообщает, имеет ли смысл повторять подключение после err.
func Recoverable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, class := range fatalSQLStates {
			if len(pgErr.Code) >= 2 && pgErr.Code[:2] == class {
				return false
			}
		}
	}
	return true
}

// HealthCheckPool проверяет существующий пул: ping и SELECT 1.
func HealthCheckPool(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pool ping failed: %w", err)
	}
	var result int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("simple query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", result)
	}
	return nil
}

func pingDatabase(ctx context.Context, dsn string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// DBStats содержит статистику подключений к БД.
type DBStats struct {
	MaxConns  int32
	OpenConns int32
	InUse     int32
	Idle      int32
	WaitCount int64
}

// GetPoolStats возвращает статистику пула подключений.
func GetPoolStats(pool *pgxpool.Pool) DBStats {
	if pool == nil {
		return DBStats{}
	}
	s := pool.Stat()
	return DBStats{
		MaxConns:  s.MaxConns(),
		OpenConns: s.TotalConns(),
		InUse:     s.AcquiredConns(),
		Idle:      s.IdleConns(),
		WaitCount: s.EmptyAcquireCount(),
	}
}

// IsHealthy: пул настроен, есть открытые соединения и занято не больше 90%.
func IsHealthy(stats DBStats) bool {
	if stats.MaxConns == 0 || stats.OpenConns == 0 {
		return false
	}
	return float64(stats.InUse)/float64(stats.MaxConns) <= 0.9
}

// CheckPool - HealthCheckPool плюс проверка загрузки пула по IsHealthy.
func CheckPool(ctx context.Context, pool *pgxpool.Pool) error {
	if err := HealthCheckPool(ctx, pool); err != nil {
		return err
	}
	return checkStats(GetPoolStats(pool))
}

func checkStats(s DBStats) error {
	if IsHealthy(s) {
		return nil
	}
	return fmt.Errorf("pool unhealthy: %d of %d connections in use, %d open, %d waits",
		s.InUse, s.MaxConns, s.OpenConns, s.WaitCount)
}
