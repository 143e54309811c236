package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

var keyPrefix = []byte("cache/")

type Config struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zerolog.Logger
	Clock      cache.Clock
}

func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// document is the stored value. Entries are self-describing so Sweep can
// filter without a secondary index.
type document struct {
	Payload   []byte `json:"payload"`
	FetchedAt int64  `json:"fetched_at"`
	TTL       int64  `json:"ttl_ns"`
}

type badgerLogger struct {
	logger *zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

type documentStore struct {
	db  *badger.DB
	now cache.Clock
}

func Open(cfg Config) (cache.Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, cache.BackendError("open badger", err)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &documentStore{db: db, now: now}, nil
}

func encodeKey(k cache.Key) []byte {
	var b bytes.Buffer
	b.Write(keyPrefix)
	b.WriteString(k.TenantID)
	b.WriteByte(0)
	b.WriteString(k.EntityType)
	b.WriteByte(0)
	b.WriteString(k.EntityID)
	return b.Bytes()
}

func (s *documentStore) Get(_ context.Context, key cache.Key) (cache.Entry, bool, error) {
	var doc document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, cache.BackendError("get "+key.String(), err)
	}

	return cache.Entry{
		Key:       key,
		Payload:   doc.Payload,
		FetchedAt: time.Unix(0, doc.FetchedAt).UTC(),
		TTL:       time.Duration(doc.TTL),
	}, true, nil
}

// Put writes the whole document in one update transaction, so a failed
// write leaves the previous document in place.
func (s *documentStore) Put(ctx context.Context, key cache.Key, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return cache.BackendError("put "+key.String(), err)
	}

	value, err := json.Marshal(document{
		Payload:   payload,
		FetchedAt: s.now().UnixNano(),
		TTL:       int64(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache document: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(key), value)
	})
	if err != nil {
		return cache.BackendError("put "+key.String(), err)
	}
	return nil
}

func (s *documentStore) IsStale(ctx context.Context, key cache.Key) (bool, error) {
	e, ok, err := s.Get(ctx, key)
	if err != nil {
		return true, err
	}
	return !ok || !e.Fresh(s.now()), nil
}

func (s *documentStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	var expired [][]byte
	cutoff := olderThan.UnixNano()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var doc document
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			if doc.FetchedAt < cutoff {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, cache.BackendError("sweep", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range expired {
		if err := wb.Delete(k); err != nil {
			return 0, cache.BackendError("sweep", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, cache.BackendError("sweep", err)
	}
	return len(expired), nil
}

func (s *documentStore) Close() error {
	return s.db.Close()
}
