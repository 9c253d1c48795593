package plugin

import (
	"context"
	"database/sql"
)

// Migration is a single forward-only schema change owned by one module.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Store is the shared database handle.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, pluginName string, migrations []Migration) error
}
