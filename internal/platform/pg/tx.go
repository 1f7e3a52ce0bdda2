package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"backoffkit/pkg/backoff"
	"backoffkit/pkg/backoff/jitter"
)

type txKey struct{}

// Querier объединяет методы выполнения запросов, общие для пула и транзакции.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// ErrNestedTx возвращается при попытке открыть транзакцию внутри транзакции.
var ErrNestedTx = errors.New("pg: nested transactions are not supported")

// TxRunner выполняет fn в транзакции. Конфликты сериализации и дедлоки повторяются
// целиком (новая транзакция, fn заново) через backoff.Handler с равномерным джиттером.
type TxRunner struct {
	Pool *pgxpool.Pool
	// Options - уровень изоляции и режим доступа; нулевое значение - настройки сервера.
	Options  pgx.TxOptions
	Strategy backoff.Strategy
	Logger   backoff.Logger

	handler *backoff.Handler
	sleep   backoff.SleepFunc
	begin   func(ctx context.Context, fn func(pgx.Tx) error) error
}

// DefaultTxStrategy: четыре попытки, 20ms, 40ms, 80ms до джиттера, не больше секунды.
func DefaultTxStrategy() backoff.Strategy {
	return backoff.Capped{
		Strategy: backoff.Geometric{Base: 20 * time.Millisecond, Multiplier: 2, MaxAttempts: 4},
		Ceiling:  time.Second,
	}
}

// NewTxRunner создает TxRunner поверх пула со стратегией DefaultTxStrategy.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	r := &TxRunner{
		Pool:     pool,
		Strategy: DefaultTxStrategy(),
		handler:  backoff.NewHandler(jitter.NewEqual(nil)),
		sleep:    backoff.SleepContext,
	}
	r.begin = func(ctx context.Context, fn func(pgx.Tx) error) error {
		return pgx.BeginTxFunc(ctx, r.Pool, r.Options, fn)
	}
	return r
}

// WithinTx выполняет fn в транзакции: ошибка откатывает её, nil коммитит.
// Внутри fn транзакция доступна через PgxTx(ctx) и GetQuerier(ctx).
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := PgxTx(ctx); ok {
		return ErrNestedTx
	}
	return r.handler.Do(ctx, func(ctx context.Context) error {
		return r.begin(ctx, func(tx pgx.Tx) error {
			return fn(context.WithValue(ctx, txKey{}, tx))
		})
	}, backoff.Policy{
		IsRecoverable: IsRetryableTxError,
		Strategy:      r.Strategy,
		Logger:        r.Logger,
		Sleep:         r.sleep,
	})
}

// PgxTx извлекает активную транзакцию из контекста.
func PgxTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// GetQuerier возвращает транзакцию из контекста или пул.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if tx, ok := PgxTx(ctx); ok {
		return tx
	}
	return r.Pool
}

// IsRetryableTxError: 40001 serialization_failure и 40P01 deadlock_detected.
func IsRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
