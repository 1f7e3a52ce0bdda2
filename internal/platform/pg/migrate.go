package pg

import (
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationInfo содержит информацию о результате применения миграций.
type MigrationInfo struct {
	Applied        bool // Были ли применены новые миграции
	CurrentVersion uint // Версия до применения
	FinalVersion   uint // Версия после применения
	Dirty          bool
}

// ApplyMigrations применяет встроенные миграции журнала. Повторный вызов безопасен,
// migrate.ErrNoChange ошибкой не считается.
func ApplyMigrations(dsn string) (MigrationInfo, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return MigrationInfo{}, fmt.Errorf("failed to create iofs source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return MigrationInfo{}, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	var info MigrationInfo
	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return info, fmt.Errorf("failed to get current version: %w", err)
	}
	info.CurrentVersion = current
	info.Dirty = dirty
	if dirty {
		return info, fmt.Errorf("database is in dirty state at version %d", current)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			info.FinalVersion = current
			return info, nil
		}
		return info, fmt.Errorf("failed to apply migrations: %w", err)
	}
	info.Applied = true
	if v, _, err := m.Version(); err == nil {
		info.FinalVersion = v
	}
	return info, nil
}
