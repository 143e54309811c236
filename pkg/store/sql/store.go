package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
)

// CacheSchema is valid for both the sqlite and duckdb dialects. Times are
// stored as unix nanoseconds so neither driver applies a time zone.
const CacheSchema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		tenant_id VARCHAR NOT NULL,
		entity_type VARCHAR NOT NULL,
		entity_id VARCHAR NOT NULL,
		payload BLOB NOT NULL,
		fetched_at BIGINT NOT NULL,
		ttl_ns BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, entity_type, entity_id)
	);
`

const (
	selectEntry = `
		SELECT payload, fetched_at, ttl_ns
		FROM cache_entries
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?`

	upsertEntry = `
		INSERT INTO cache_entries (tenant_id, entity_type, entity_id, payload, fetched_at, ttl_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_type, entity_id) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			ttl_ns = excluded.ttl_ns`

	deleteOlder = `DELETE FROM cache_entries WHERE fetched_at < ?`
)

type Option func(*cacheStore)

func WithClock(now cache.Clock) Option {
	return func(s *cacheStore) {
		if now != nil {
			s.now = now
		}
	}
}

type cacheStore struct {
	db  *sql.DB
	now cache.Clock

	// one writer at a time; duckdb aborts conflicting transactions and
	// sqlite has a single write lock anyway
	writeMu sync.Mutex
}

// NewStore wraps an opened database that already carries CacheSchema.
// The store owns db and closes it on Close.
func NewStore(db *sql.DB, opts ...Option) (cache.Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	s := &cacheStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *cacheStore) Get(ctx context.Context, key cache.Key) (cache.Entry, bool, error) {
	var (
		payload   []byte
		fetchedAt int64
		ttl       int64
	)

	row := s.queryer(ctx).QueryRowContext(ctx, selectEntry, key.TenantID, key.EntityType, key.EntityID)
	err := row.Scan(&payload, &fetchedAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, cache.BackendError("get "+key.String(), err)
	}

	return cache.Entry{
		Key:       key,
		Payload:   payload,
		FetchedAt: time.Unix(0, fetchedAt).UTC(),
		TTL:       time.Duration(ttl),
	}, true, nil
}

// Put upserts inside its own transaction, or inside the caller's when one
// is attached to ctx with WithTransaction.
func (s *cacheStore) Put(ctx context.Context, key cache.Key, payload []byte, ttl time.Duration) error {
	if tx := GetTransaction(ctx); tx != nil {
		return s.upsert(ctx, tx, key, payload, ttl)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cache.BackendError("begin", err)
	}

	if err := s.upsert(WithTransaction(ctx, tx), tx, key, payload, ttl); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return cache.BackendError("commit", err)
	}
	return nil
}

func (s *cacheStore) upsert(ctx context.Context, tx *sql.Tx, key cache.Key, payload []byte, ttl time.Duration) error {
	if payload == nil {
		payload = []byte{}
	}

	_, err := tx.ExecContext(ctx, upsertEntry,
		key.TenantID,
		key.EntityType,
		key.EntityID,
		payload,
		s.now().UnixNano(),
		int64(ttl),
	)
	if err != nil {
		return cache.BackendError("put "+key.String(), err)
	}
	return nil
}

func (s *cacheStore) IsStale(ctx context.Context, key cache.Key) (bool, error) {
	e, ok, err := s.Get(ctx, key)
	if err != nil {
		return true, err
	}
	return !ok || !e.Fresh(s.now()), nil
}

func (s *cacheStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, deleteOlder, olderThan.UnixNano())
	if err != nil {
		return 0, cache.BackendError("sweep", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, cache.BackendError("sweep", err)
	}
	return int(n), nil
}

func (s *cacheStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *cacheStore) queryer(ctx context.Context) queryer {
	if tx := GetTransaction(ctx); tx != nil {
		return tx
	}
	return s.db
}
