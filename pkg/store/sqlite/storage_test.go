package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache/cachetest"
	sqlstore "github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB_BootsSchema(t *testing.T) {
	db, err := NewDB(Settings{DbPath: filepath.Join(t.TempDir(), "data", "cache.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'cache_entries'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "cache_entries", name)
}

func TestCacheStore(t *testing.T) {
	cachetest.Run(t, func(t *testing.T, clock cache.Clock) cache.Store {
		s, err := Open(Settings{DbPath: filepath.Join(t.TempDir(), "cache.sqlite")}, sqlstore.WithClock(clock))
		require.NoError(t, err)
		return s
	})
}

func TestCacheStore_Memory(t *testing.T) {
	cachetest.Run(t, func(t *testing.T, clock cache.Clock) cache.Store {
		s, err := Open(Settings{DbPath: MemoryPath}, sqlstore.WithClock(clock))
		require.NoError(t, err)
		return s
	})
}
