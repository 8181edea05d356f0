// Package storage provides the persistence layer behind the payment core:
// the order projection and the gateway transaction ledger, backed by either
// SQLite or Postgres.
package storage

import (
	"context"
	"fmt"

	"github.com/richgarden/paygate/provider"
)

// Store is the combined persistence surface used by the payment machines
type Store interface {
	provider.OrderStore
	provider.TransactionStore

	// SaveOrder inserts or replaces an order projection. Order CRUD is owned
	// by the storefront; this exists for seeding and synchronization.
	SaveOrder(ctx context.Context, order *provider.Order) error

	Close() error
}

// Open constructs a store for the configured driver
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return NewSQLiteStore(dsn)
	case "postgres", "pgx":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
