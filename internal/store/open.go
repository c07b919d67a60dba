package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// Open connects to the configured backend.
func Open(ctx context.Context, driver, databaseURL string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres", "":
		s, err := NewPostgres(ctx, databaseURL, poolCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLite(databaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}
