package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	sqlstore "github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/sql"
	_ "modernc.org/sqlite"
)

const MemoryPath = ":memory:"

var bootQueries = []string{
	sqlstore.CacheSchema,
}

type Settings struct {
	DbPath string
	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration
}

func NewDB(settings Settings) (*sql.DB, error) {
	if settings.DbPath == "" {
		settings.DbPath = MemoryPath
	}
	if settings.BusyTimeout <= 0 {
		settings.BusyTimeout = 5 * time.Second
	}
	if settings.DbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(settings.DbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout=%d&_pragma=journal_mode=WAL",
		settings.DbPath, settings.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a second connection to :memory: would see a different database
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, query := range bootQueries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to boot sqlite schema: %w", err)
		}
	}

	return db, nil
}

// Open returns a cache store backed by a sqlite file.
func Open(settings Settings, opts ...sqlstore.Option) (cache.Store, error) {
	db, err := NewDB(settings)
	if err != nil {
		return nil, cache.BackendError("open sqlite", err)
	}

	store, err := sqlstore.NewStore(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
