package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBackend wraps every storage I/O failure so callers can tell a broken
// backend from an absent entry.
var ErrBackend = errors.New("cache backend error")

const (
	EntityHosts      = "hosts"
	EntityPolicies   = "policies"
	EntityRuleGroups = "rule_groups"
	EntityGraded     = "graded"
	EntityZeroTrust  = "zero_trust"
)

type Key struct {
	EntityType string
	EntityID   string
	TenantID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.EntityType, k.EntityID)
}

type Entry struct {
	Key       Key
	Payload   []byte
	FetchedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry is still valid at now. An entry is stale
// from the instant its age reaches TTL.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Store is implemented by every cache backend. TTL is supplied per Put; the
// store applies no expiry on its own.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Put(ctx context.Context, key Key, payload []byte, ttl time.Duration) error
	IsStale(ctx context.Context, key Key) (bool, error)
	// Sweep deletes entries fetched before olderThan and returns how many went.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

type Clock func() time.Time

func BackendError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackend, op, err)
}
