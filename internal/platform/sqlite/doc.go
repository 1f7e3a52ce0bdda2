// Package sqlite хранит журнал неудачных повторов в SQLite (modernc.org/sqlite, без cgo).
//
// Схема встроена в бинарник и применяется через golang-migrate:
//
//	db, err := sqlite.NewDB(ctx, "data/journal.db")
//	if err != nil {
//		return err
//	}
//	if _, err := sqlite.ApplyMigrations(db); err != nil {
//		return err
//	}
//	store := sqlite.NewJournalStore(sqlite.NewTxRunner(db), 1000)
//
// TxRunner повторяет транзакцию при SQLITE_BUSY через backoff.Handler; остальные ошибки
// возвращаются сразу.
package sqlite
