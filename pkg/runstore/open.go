package runstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Open connects to a SQL backend and ensures the schema exists. driver is
// "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*SQLStore, *sql.DB, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, nil, fmt.Errorf("runstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("runstore: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("runstore: ping %s: %w", driver, err)
	}
	store := NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
