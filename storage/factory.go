package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// OpenURL creates a SQLStore from a database URL.
//
// Supported schemes:
//   - postgres:// or postgresql:// - PostgreSQL via pgx; the URL is passed to the driver unchanged
//   - sqlite:// - SQLite file, e.g. sqlite:///var/lib/custody/custody.db
//   - sqlite::memory: - in-memory SQLite for development and tests
func OpenURL(ctx context.Context, databaseURL string, log *slog.Logger) (*SQLStore, error) {
	if databaseURL == "sqlite::memory:" {
		return NewSQLStore(ctx, DriverSQLite, ":memory:", log)
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return NewSQLStore(ctx, DriverPostgres, databaseURL, log)
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			return nil, fmt.Errorf("sqlite URL has no path: %s", databaseURL)
		}
		dsn := path
		if u.RawQuery != "" {
			dsn = path + "?" + u.RawQuery
		}
		return NewSQLStore(ctx, DriverSQLite, dsn, log)
	default:
		return nil, fmt.Errorf("unsupported database scheme: %s", u.Scheme)
	}
}
