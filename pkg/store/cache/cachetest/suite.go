// Package cachetest holds the behaviour every cache backend must share.
package cachetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a settable time source shared between a test and its store.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory opens a fresh, empty store reading time from clock.
type Factory func(t *testing.T, clock cache.Clock) cache.Store

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// Run executes the compliance matrix against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	setup := func(t *testing.T) (cache.Store, *Clock) {
		clock := NewClock(epoch)
		s := newStore(t, clock.Now)
		t.Cleanup(func() { _ = s.Close() })
		return s, clock
	}

	t.Run("absent entry", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()
		key := cache.Key{EntityType: cache.EntityHosts, EntityID: "all", TenantID: "cid"}

		_, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		stale, err := s.IsStale(ctx, key)
		require.NoError(t, err)
		assert.True(t, stale)
	})

	t.Run("put then get", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()
		key := cache.Key{EntityType: cache.EntityPolicies, EntityID: "prevention", TenantID: "cid"}

		require.NoError(t, s.Put(ctx, key, []byte(`{"a":1}`), 10*time.Minute))

		e, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, key, e.Key)
		assert.Equal(t, []byte(`{"a":1}`), e.Payload)
		assert.True(t, e.FetchedAt.Equal(epoch), "fetched_at %s", e.FetchedAt)
		assert.Equal(t, 10*time.Minute, e.TTL)
	})

	t.Run("staleness boundary", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()
		key := cache.Key{EntityType: cache.EntityHosts, EntityID: "all", TenantID: "cid"}
		require.NoError(t, s.Put(ctx, key, []byte("x"), 300*time.Second))

		steps := []struct {
			at    time.Duration
			stale bool
		}{
			{299 * time.Second, false},
			{300 * time.Second, true},
			{301 * time.Second, true},
		}
		for _, step := range steps {
			clock.Set(epoch.Add(step.at))
			stale, err := s.IsStale(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, step.stale, stale, "at T+%s", step.at)
		}
	})

	t.Run("overwrite refreshes entry", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()
		key := cache.Key{EntityType: cache.EntityHosts, EntityID: "all", TenantID: "cid"}

		require.NoError(t, s.Put(ctx, key, []byte("old"), time.Minute))
		clock.Advance(2 * time.Minute)
		require.NoError(t, s.Put(ctx, key, []byte("new"), time.Minute))

		e, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("new"), e.Payload)
		assert.True(t, e.FetchedAt.Equal(epoch.Add(2*time.Minute)))

		stale, err := s.IsStale(ctx, key)
		require.NoError(t, err)
		assert.False(t, stale)
	})

	t.Run("keys are isolated by tenant", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()
		a := cache.Key{EntityType: cache.EntityHosts, EntityID: "all", TenantID: "tenant-a"}
		b := cache.Key{EntityType: cache.EntityHosts, EntityID: "all", TenantID: "tenant-b"}

		require.NoError(t, s.Put(ctx, a, []byte("a"), time.Minute))

		_, ok, err := s.Get(ctx, b)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent puts last write wins", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()
		key := cache.Key{EntityType: cache.EntityPolicies, EntityID: "firewall", TenantID: "cid"}

		const writers = 8
		payloads := make(map[string]bool, writers)
		var wg sync.WaitGroup
		for i := range writers {
			payload := fmt.Sprintf("payload-%02d-%s", i, strings.Repeat("x", 64))
			payloads[payload] = true
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, key, []byte(payload), time.Minute))
			}()
		}
		wg.Wait()

		e, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, payloads[string(e.Payload)], "payload must be one complete write")

		require.NoError(t, s.Put(ctx, key, []byte("final"), time.Minute))
		e, _, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("final"), e.Payload)
	})

	t.Run("failed write keeps previous entry", func(t *testing.T) {
		s, _ := setup(t)
		key := cache.Key{EntityType: cache.EntityHosts, EntityID: "all", TenantID: "cid"}
		require.NoError(t, s.Put(context.Background(), key, []byte("committed"), time.Minute))

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.Put(cancelled, key, []byte("partial"), time.Minute)
		require.Error(t, err)
		assert.ErrorIs(t, err, cache.ErrBackend)

		e, ok, err := s.Get(context.Background(), key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("committed"), e.Payload)
	})

	t.Run("sweep removes only older entries", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()
		old := cache.Key{EntityType: cache.EntityHosts, EntityID: "old", TenantID: "cid"}
		recent := cache.Key{EntityType: cache.EntityHosts, EntityID: "recent", TenantID: "cid"}

		require.NoError(t, s.Put(ctx, old, []byte("o"), time.Hour))
		clock.Advance(10 * time.Minute)
		require.NoError(t, s.Put(ctx, recent, []byte("r"), time.Hour))

		removed, err := s.Sweep(ctx, epoch.Add(5*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, ok, err := s.Get(ctx, old)
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = s.Get(ctx, recent)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
