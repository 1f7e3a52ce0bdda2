package app

import (
	"context"
	"fmt"
	"log/slog"

	"backoffkit/internal/config"
	"backoffkit/internal/journal"
	"backoffkit/internal/platform/pg"
	redisjournal "backoffkit/internal/platform/redis"
	"backoffkit/internal/platform/sqlite"
)

// store is an opened journal backend with its shutdown and health hooks.
type store struct {
	journal.Store
	driver string
	ping   func(ctx context.Context) error
	close  func() error
}

// openStore connects the journal backend selected by cfg.Driver. Read-only opens skip
// migrations and, for SQLite, open the file read-only.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger, readOnly bool) (*store, error) {
	j := cfg.Journal
	switch j.Driver {
	case config.DriverNone, config.DriverMemory:
		return &store{Store: journal.NewMemory(j.Capacity), driver: j.Driver}, nil

	case config.DriverSQLite:
		open := sqlite.NewDB
		if readOnly {
			open = sqlite.NewReadOnlyDB
		}
		db, err := open(ctx, j.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		if !readOnly {
			info, err := sqlite.ApplyMigrations(db)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			log.Info("sqlite migrations applied", "applied", info.Applied, "version", info.FinalVersion)
		}
		runner := sqlite.NewTxRunner(db)
		runner.Logger = backoffLogger(log, "sqlite.tx")
		return &store{
			Store:  sqlite.NewJournalStore(runner, j.Capacity),
			driver: j.Driver,
			ping:   db.PingContext,
			close:  db.Close,
		}, nil

	case config.DriverPostgres:
		opts := pg.DefaultHealthCheckOptions()
		opts.Logger = backoffLogger(log, "pg.wait")
		if err := pg.WaitForDB(ctx, j.PostgresDSN, opts); err != nil {
			return nil, err
		}
		if !readOnly {
			info, err := pg.ApplyMigrations(j.PostgresDSN)
			if err != nil {
				return nil, err
			}
			log.Info("postgres migrations applied", "applied", info.Applied, "version", info.FinalVersion)
		}
		pool, err := pg.NewPool(ctx, j.PostgresDSN)
		if err != nil {
			return nil, err
		}
		runner := pg.NewTxRunner(pool)
		runner.Logger = backoffLogger(log, "pg.tx")
		return &store{
			Store:  pg.NewJournalStore(runner, j.Capacity),
			driver: j.Driver,
			ping:   func(ctx context.Context) error { return pg.CheckPool(ctx, pool) },
			close:  func() error { pool.Close(); return nil },
		}, nil

	case config.DriverRedis:
		rs, err := redisjournal.NewJournalStore(ctx, redisjournal.Config{URL: j.RedisURL, Capacity: j.Capacity})
		if err != nil {
			return nil, err
		}
		return &store{Store: rs, driver: j.Driver, ping: rs.Ping, close: rs.Close}, nil
	}
	return nil, fmt.Errorf("unknown journal driver %q", j.Driver)
}

func (s *store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
