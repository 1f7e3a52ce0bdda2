package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"backoffkit/internal/journal"
)

// JournalStore хранит журнал в PostgreSQL. Запись и её попытки пишутся одной транзакцией;
// Capacity > 0 удаляет самые старые записи сверх лимита (попытки уходят каскадом).
type JournalStore struct {
	runner   *TxRunner
	Capacity int
}

var _ journal.Store = (*JournalStore)(nil)

// NewJournalStore ожидает применённые миграции (ApplyMigrations).
func NewJournalStore(runner *TxRunner, capacity int) *JournalStore {
	return &JournalStore{runner: runner, Capacity: capacity}
}

func (s *JournalStore) Append(ctx context.Context, e journal.Entry) error {
	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		q := s.runner.GetQuerier(ctx)
		if _, err := q.Exec(ctx,
			`INSERT INTO journal_entries (id, operation, reason, attempt, error, created_at)
			 VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
			e.ID.String(), e.Operation, e.Reason, int32(e.Attempt), e.Error, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert journal entry: %w", err)
		}

		if len(e.Attempts) > 0 {
			b := &pgx.Batch{}
			for _, a := range e.Attempts {
				b.Queue(`INSERT INTO journal_attempts (entry_id, attempt, error, at) VALUES ($1::uuid, $2, $3, $4)`,
					e.ID.String(), int32(a.Attempt), a.Error, a.At)
			}
			if err := q.SendBatch(ctx, b).Close(); err != nil {
				return fmt.Errorf("insert journal attempts: %w", err)
			}
		}

		if s.Capacity > 0 {
			if _, err := q.Exec(ctx,
				`DELETE FROM journal_entries WHERE id IN (
					SELECT id FROM journal_entries ORDER BY created_at DESC OFFSET $1)`, s.Capacity,
			); err != nil {
				return fmt.Errorf("prune journal entries: %w", err)
			}
		}
		return nil
	})
}

func (s *JournalStore) List(ctx context.Context, limit int) ([]journal.Entry, error) {
	q := s.runner.GetQuerier(ctx)

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := q.Query(ctx,
		`SELECT id::text, operation, reason, attempt, error, created_at FROM journal_entries
		 ORDER BY created_at DESC LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var (
			e       journal.Entry
			id      string
			attempt int32
		)
		if err := row.Scan(&id, &e.Operation, &e.Reason, &attempt, &e.Error, &e.CreatedAt); err != nil {
			return e, err
		}
		e.Attempt = uint32(attempt)
		e.CreatedAt = e.CreatedAt.UTC()
		e.ID, err = uuid.Parse(id)
		return e, err
	})
	if err != nil || len(entries) == 0 {
		return entries, err
	}

	ids := make([]string, len(entries))
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID.String()
		index[ids[i]] = i
	}
	rows, err = q.Query(ctx,
		`SELECT entry_id::text, attempt, error, at FROM journal_attempts
		 WHERE entry_id = ANY($1::uuid[]) ORDER BY entry_id, attempt`, ids)
	if err != nil {
		return nil, fmt.Errorf("query journal attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id      string
			attempt int32
			a       journal.AttemptRecord
		)
		if err := rows.Scan(&id, &attempt, &a.Error, &a.At); err != nil {
			return nil, err
		}
		a.Attempt = uint32(attempt)
		a.At = a.At.UTC()
		if i, ok := index[id]; ok {
			entries[i].Attempts = append(entries[i].Attempts, a)
		}
	}
	return entries, rows.Err()
}
