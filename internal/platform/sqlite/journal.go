package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"backoffkit/internal/journal"
)

// JournalStore хранит записи журнала в SQLite. Запись и её попытки пишутся одной транзакцией.
// Capacity > 0 ограничивает число хранимых записей: самые старые удаляются.
type JournalStore struct {
	runner   *TxRunner
	Capacity int
}

var _ journal.Store = (*JournalStore)(nil)

// NewJournalStore ожидает базу с применёнными миграциями (ApplyMigrations).
func NewJournalStore(runner *TxRunner, capacity int) *JournalStore {
	return &JournalStore{runner: runner, Capacity: capacity}
}

func (s *JournalStore) Append(ctx context.Context, e journal.Entry) error {
	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		q := s.runner.GetQuerier(ctx)
		if _, err := q.ExecContext(ctx,
			`INSERT INTO journal_entries (id, operation, reason, attempt, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.Operation, e.Reason, e.Attempt, e.Error, e.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert journal entry: %w", err)
		}
		for _, a := range e.Attempts {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO journal_attempts (entry_id, attempt, error, at) VALUES (?, ?, ?, ?)`,
				e.ID.String(), a.Attempt, a.Error, a.At.UnixNano(),
			); err != nil {
				return fmt.Errorf("insert journal attempt: %w", err)
			}
		}
		if s.Capacity > 0 {
			return prune(ctx, q, s.Capacity)
		}
		return nil
	})
}

func prune(ctx context.Context, q Querier, capacity int) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM journal_entries WHERE id NOT IN (
			SELECT id FROM journal_entries ORDER BY created_at DESC, rowid DESC LIMIT ?)`, capacity,
	); err != nil {
		return fmt.Errorf("prune journal entries: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM journal_attempts WHERE entry_id NOT IN (SELECT id FROM journal_entries)`,
	); err != nil {
		return fmt.Errorf("prune journal attempts: %w", err)
	}
	return nil
}

func (s *JournalStore) List(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	db := s.runner.DB
	rows, err := db.QueryContext(ctx,
		`SELECT id, operation, reason, attempt, error, created_at FROM journal_entries
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}

	var out []journal.Entry
	for rows.Next() {
		var (
			e       journal.Entry
			id      string
			created int64
		)
		if err := rows.Scan(&id, &e.Operation, &e.Reason, &e.Attempt, &e.Error, &created); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("journal entry id %q: %w", id, err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Попытки читаем после закрытия rows: у in-memory базы одно соединение.
	for i := range out {
		if out[i].Attempts, err = listAttempts(ctx, db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func listAttempts(ctx context.Context, db *sql.DB, id uuid.UUID) ([]journal.AttemptRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT attempt, error, at FROM journal_attempts WHERE entry_id = ? ORDER BY attempt`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query journal attempts: %w", err)
	}
	defer rows.Close()

	var out []journal.AttemptRecord
	for rows.Next() {
		var (
			a  journal.AttemptRecord
			at int64
		)
		if err := rows.Scan(&a.Attempt, &a.Error, &at); err != nil {
			return nil, err
		}
		a.At = time.Unix(0, at).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
