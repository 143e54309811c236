package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/falcon"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/ratelimit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/rs/zerolog"
)

type lister[T any] func(ctx context.Context, cursor string) (falcon.Page[T], error)

// fetch returns the cached records while they are fresh and otherwise pages
// through the API. A complete listing replaces the cache entry in one put;
// an interrupted listing writes nothing. When the API fails and an expired
// entry exists, the expired records are returned and the entity is marked
// stale. A non-nil complete rejects fresh entries that do not cover what
// the caller needs.
func fetch[T any](ctx context.Context, r *Runner, stop <-chan struct{}, res *Result, key cache.Key, list lister[T], complete func([]T) bool) ([]T, error) {
	label := entityLabel(key)
	logger := zerolog.Ctx(ctx).With().Str("entity", label).Logger()

	var cached []T
	lookup, err := cache.GetJSON(ctx, r.deps.Store, key, r.now(), &cached)
	if err != nil {
		logger.Warn().Err(err).Msg("cache read failed")
		res.recordError(label, err)
		lookup = cache.Lookup{}
	}
	if lookup.Found && lookup.Fresh && (complete == nil || complete(cached)) {
		logger.Debug().Time("fetched_at", lookup.FetchedAt).Msg("using cached records")
		res.CacheHits++
		return cached, nil
	}

	items, err := collect(ctx, r, stop, res, list)
	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			logger.Info().Msg("fetch interrupted")
			return nil, err
		}
		if lookup.Found {
			logger.Warn().Err(err).Time("fetched_at", lookup.FetchedAt).Msg("fetch failed, using stale cache")
			res.Stale[label] = true
			res.recordError(label, err)
			return cached, nil
		}
		logger.Error().Err(err).Msg("fetch failed")
		res.recordError(label, err)
		return nil, err
	}

	if err := cache.PutJSON(ctx, r.deps.Store, key, items, r.settings.TTL.For(key.EntityType)); err != nil {
		logger.Error().Err(err).Msg("failed to cache records")
		res.recordError(label, err)
	}
	logger.Info().Int("count", len(items)).Msg("fetched records")
	return items, nil
}

func collect[T any](ctx context.Context, r *Runner, stop <-chan struct{}, res *Result, list lister[T]) ([]T, error) {
	var items []T
	cursor := ""
	for {
		if stopped(stop) {
			return nil, ErrInterrupted
		}

		var page falcon.Page[T]
		err := r.deps.Limiter.Do(ctx, stop, func(ctx context.Context) error {
			res.APICalls++
			p, err := list(ctx, cursor)
			if err != nil {
				res.APIErrors++
				return err
			}
			page = p
			return nil
		})
		switch {
		case errors.Is(err, ratelimit.ErrStopped):
			return nil, ErrInterrupted
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
		case err != nil:
			return nil, err
		}

		items = append(items, page.Items...)
		if page.Next == "" {
			return items, nil
		}
		cursor = page.Next
	}
}

func entityLabel(key cache.Key) string {
	if key.EntityType == cache.EntityPolicies {
		return key.EntityID
	}
	return key.EntityType
}
