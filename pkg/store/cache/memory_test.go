package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache/cachetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	cachetest.Run(t, func(t *testing.T, clock cache.Clock) cache.Store {
		return cache.NewMemoryStore(clock)
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := cache.NewMemoryStore(nil)
	require.NoError(t, s.Close())

	err := s.Put(context.Background(), cache.Key{EntityType: "hosts"}, []byte("x"), time.Minute)
	assert.ErrorIs(t, err, cache.ErrBackend)
}

func TestJSONHelpers(t *testing.T) {
	clock := cachetest.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := cache.NewMemoryStore(clock.Now)
	ctx := context.Background()
	key := cache.Key{EntityType: cache.EntityPolicies, EntityID: "prevention", TenantID: "cid"}

	require.NoError(t, cache.PutJSON(ctx, s, key, []string{"a", "b"}, time.Minute))

	var out []string
	lookup, err := cache.GetJSON(ctx, s, key, clock.Now(), &out)
	require.NoError(t, err)
	assert.True(t, lookup.Found)
	assert.True(t, lookup.Fresh)
	assert.Equal(t, []string{"a", "b"}, out)

	clock.Advance(time.Minute)
	lookup, err = cache.GetJSON(ctx, s, key, clock.Now(), &out)
	require.NoError(t, err)
	assert.True(t, lookup.Found)
	assert.False(t, lookup.Fresh)
}

func TestTTLPolicy(t *testing.T) {
	p := cache.TTLPolicy{
		ByEntity: map[string]time.Duration{cache.EntityHosts: 5 * time.Minute, cache.EntityRuleGroups: 0},
		Default:  10 * time.Minute,
	}
	assert.Equal(t, 5*time.Minute, p.For(cache.EntityHosts))
	assert.Equal(t, 10*time.Minute, p.For(cache.EntityRuleGroups))
	assert.Equal(t, 10*time.Minute, p.For("unknown"))
}
