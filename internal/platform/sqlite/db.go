package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер
)

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWrite - режим чтения и записи (по умолчанию)
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - режим только для чтения
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate - режим чтения/записи с созданием файла если не существует
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// DBOptions содержит настройки для SQLite базы данных журнала.
type DBOptions struct {
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// MaxOpenConns - у SQLite один писатель, держим пул маленьким
	MaxOpenConns int
	MaxIdleConns int
	PingTimeout  time.Duration
	WALMode      bool
	// BusyTimeout - сколько драйвер сам ждёт снятия блокировки до SQLITE_BUSY
	BusyTimeout time.Duration
	AccessMode  AccessMode
}

// DefaultDBOptions возвращает настройки по умолчанию для embedded использования.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		PingTimeout:     5 * time.Second,
		WALMode:         true,
		BusyTimeout:     5 * time.Second,
		AccessMode:      AccessModeReadWrite,
	}
}

// NewDB открывает файл базы с настройками по умолчанию.
func NewDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	return NewDBWithOptions(ctx, dbPath, DefaultDBOptions())
}

// NewReadOnlyDB открывает базу только для чтения (команда failures).
func NewReadOnlyDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	opts := DefaultDBOptions()
	opts.AccessMode = AccessModeReadOnly
	opts.WALMode = false
	return NewDBWithOptions(ctx, dbPath, opts)
}

// NewInMemoryDB создает in-memory базу для тестов.
// Пул ограничен одним соединением: у каждого соединения своя in-memory схема.
func NewInMemoryDB(ctx context.Context) (*sql.DB, error) {
	opts := DefaultDBOptions()
	opts.WALMode = false
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	return NewDBWithOptions(ctx, ":memory:", opts)
}

// NewDBWithOptions открывает базу, проверяет соединение и применяет PRAGMA.
func NewDBWithOptions(ctx context.Context, dbPath string, opts DBOptions) (*sql.DB, error) {
	if dbPath != ":memory:" && opts.AccessMode != AccessModeReadOnly {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", buildDSN(dbPath, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := applyPragmaSettings(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}
	return db, nil
}

// buildDSN добавляет к пути только режим доступа; остальное настраивается через PRAGMA.
func buildDSN(dbPath string, opts DBOptions) string {
	var params []string
	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite {
		params = append(params, "mode="+string(opts.AccessMode))
	}
	if len(params) == 0 {
		return dbPath
	}
	prefix := dbPath
	if !strings.HasPrefix(prefix, "file:") {
		prefix = "file:" + prefix
	}
	return prefix + "?" + strings.Join(params, "&")
}

func applyPragmaSettings(ctx context.Context, db *sql.DB, opts DBOptions) error {
	var pragmas []string
	if opts.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	if opts.AccessMode != AccessModeReadOnly {
		pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
	}
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}
