package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errClosed = errors.New("store is closed")

// TTLPolicy maps entity types to their time to live.
type TTLPolicy struct {
	ByEntity map[string]time.Duration
	Default  time.Duration
}

func (p TTLPolicy) For(entityType string) time.Duration {
	if ttl, ok := p.ByEntity[entityType]; ok && ttl > 0 {
		return ttl
	}
	return p.Default
}

// Lookup is the result of a typed read.
type Lookup struct {
	Found     bool
	Fresh     bool
	FetchedAt time.Time
}

// GetJSON decodes the payload stored under key into v.
func GetJSON(ctx context.Context, s Store, key Key, now time.Time, v any) (Lookup, error) {
	e, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return Lookup{}, err
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Lookup{}, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return Lookup{Found: true, Fresh: e.Fresh(now), FetchedAt: e.FetchedAt}, nil
}

func PutJSON(ctx context.Context, s Store, key Key, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, payload, ttl)
}
