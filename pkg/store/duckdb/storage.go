package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	sqlstore "github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/sql"
	"github.com/marcboeker/go-duckdb/v2"
)

const MemoryPath = ":memory:"

var bootQueries = []string{
	sqlstore.CacheSchema,
}

type Settings struct {
	DbPath  string
	Threads int
}

func NewDB(settings Settings) (*sql.DB, error) {
	if settings.DbPath == "" {
		settings.DbPath = MemoryPath
	}
	if settings.Threads <= 0 {
		settings.Threads = 4
	}
	if settings.DbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(settings.DbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?threads=%d", settings.DbPath, settings.Threads)
	c, err := duckdb.NewConnector(dsn, func(exec driver.ExecerContext) error {
		for _, query := range bootQueries {
			_, err := exec.ExecContext(context.Background(), query, nil)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sql.OpenDB(c), nil
}

// Open returns a cache store backed by a duckdb file.
func Open(settings Settings, opts ...sqlstore.Option) (cache.Store, error) {
	db, err := NewDB(settings)
	if err != nil {
		return nil, cache.BackendError("open duckdb", err)
	}

	store, err := sqlstore.NewStore(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
