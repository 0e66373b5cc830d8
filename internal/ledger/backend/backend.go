// Package backend selects the run ledger implementation at startup.
package backend

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger/pgstore"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger/sqlstore"
)

// Open returns a durable store for driver, or an in-memory store when driver
// is empty or the database cannot be reached and migrated. The fallback is
// permanent for the returned handle.
func Open(ctx context.Context, driver, dsn string) ledger.Store {
	if driver == "" {
		log.Info().Msg("no ledger database configured, runs are kept in memory")
		return ledger.NewInMemoryStore()
	}
	store, err := openDurable(ctx, ledger.DBDriver(driver), dsn)
	if err != nil {
		log.Warn().Err(err).Str("driver", driver).Msg("ledger persistence degraded, falling back to in-memory runs")
		return ledger.NewInMemoryStore()
	}
	log.Info().Str("driver", driver).Msg("ledger connected")
	return store
}

type durable interface {
	ledger.Store
	DB() *sql.DB
}

func openDurable(ctx context.Context, driver ledger.DBDriver, dsn string) (ledger.Store, error) {
	var (
		store durable
		err   error
	)
	switch driver {
	case ledger.DBSQLite:
		store, err = sqlstore.OpenSQLite(dsn)
	case ledger.DBPostgres:
		store, err = pgstore.OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := store.DB().PingContext(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := ledger.Migrate(ctx, store.DB(), driver); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}
