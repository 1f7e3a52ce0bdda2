package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"backoffkit/pkg/backoff"
)

// txKey используется как ключ для хранения транзакции в context.Context
type txKey struct{}

// Querier объединяет методы выполнения запросов, общие для БД и транзакции.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// ErrNestedTx возвращается при попытке открыть транзакцию внутри транзакции.
var ErrNestedTx = errors.New("sqlite: nested transactions are not supported")

// TxRunner выполняет fn внутри транзакции. SQLITE_BUSY повторяется через backoff.Handler.
type TxRunner struct {
	DB       *sql.DB
	Strategy backoff.Strategy
	Logger   backoff.Logger
	handler  *backoff.Handler
	sleep    backoff.SleepFunc
}

// DefaultTxStrategy: 10ms, 20ms между тремя попытками, не больше 500ms.
func DefaultTxStrategy() backoff.Strategy {
	return backoff.Capped{
		Strategy: backoff.Geometric{Base: 10 * time.Millisecond, Multiplier: 2, MaxAttempts: 3},
		Ceiling:  500 * time.Millisecond,
	}
}

// NewTxRunner создает TxRunner со стратегией DefaultTxStrategy.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{
		DB:       db,
		Strategy: DefaultTxStrategy(),
		handler:  backoff.NewHandler(nil),
		sleep:    backoff.SleepContext,
	}
}

// WithinTx выполняет fn в транзакции: ошибка fn откатывает её, nil коммитит.
// Транзакция доступна внутри fn через SqlTx(ctx) и GetQuerier(ctx).
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := SqlTx(ctx); ok {
		return ErrNestedTx
	}
	return r.handler.Do(ctx, func(ctx context.Context) error {
		return r.executeTx(ctx, fn)
	}, backoff.Policy{
		IsRecoverable: IsBusy,
		Strategy:      r.Strategy,
		Logger:        r.Logger,
		Sleep:         r.sleep,
	})
}

func (r *TxRunner) executeTx(ctx context.Context, fn func(context.Context) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SqlTx извлекает активную транзакцию из контекста.
func SqlTx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// GetQuerier возвращает транзакцию из контекста или основное подключение.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if tx, ok := SqlTx(ctx); ok {
		return tx
	}
	return r.DB
}

// IsBusy сообщает, что ошибка вызвана блокировкой базы и запрос можно повторить.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "database table is locked")
}
