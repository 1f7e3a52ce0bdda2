package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationInfo содержит информацию о результате применения миграций.
type MigrationInfo struct {
	Applied        bool
	CurrentVersion uint
	FinalVersion   uint
}

// newMigrate собирает migrate поверх уже открытого *sql.DB и встроенных миграций.
// m.Close() не вызываем: он закрыл бы общий db.
func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source: %w", err)
	}
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// ApplyMigrations применяет встроенные миграции журнала. Повторный вызов безопасен.
func ApplyMigrations(db *sql.DB) (MigrationInfo, error) {
	m, err := newMigrate(db)
	if err != nil {
		return MigrationInfo{}, err
	}

	var info MigrationInfo
	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return info, fmt.Errorf("failed to get current version: %w", err)
	}
	info.CurrentVersion = current
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

// MigrationVersion возвращает текущую версию схемы; 0 если миграции не применялись.
func MigrationVersion(db *sql.DB) (uint, bool, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, dirty, nil
}
