package store

import (
	"context"
	"fmt"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates a store for the named driver. dsn is a file path for sqlite
// and a connection string for postgres; memory ignores it.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		if dsn == "" {
			dsn = "docflow.db"
		}
		return NewSQLiteStore(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
