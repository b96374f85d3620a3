// Package fetcher drives cursor pagination against the upstream API and hands
// each page to a store, one page at a time.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/mo"
	"go.uber.org/zap"
)

// ErrUpstream marks a failure to fetch a page. Any other error returned by
// Run came from Store.
var ErrUpstream = errors.New("upstream fetch failed")

// Page is one page of items plus its cursor state.
type Page[T any] struct {
	Items       []T
	HasNextPage bool
	EndCursor   string
}

// Pass describes one paginated sync.
type Pass[T any] struct {
	Name string
	// Fetch returns the page after cursor; None means the first page.
	Fetch func(ctx context.Context, cursor mo.Option[string]) (Page[T], error)
	// Keep filters a page before it is stored. Nil keeps everything.
	Keep func(item T) bool
	// Store persists the kept items of one page. It is not called for an empty set.
	Store func(ctx context.Context, items []T) error
	// StopWhen ends the pass early after a page has been stored. Nil never stops early.
	StopWhen func(kept []T) bool
}

// Stats summarises a finished pass.
type Stats struct {
	Pages   int
	Fetched int
	Stored  int
}

// Run paginates until the upstream reports no next page or StopWhen fires.
// Pages already stored stay stored when a later page fails.
func Run[T any](ctx context.Context, log *zap.Logger, pass Pass[T]) (Stats, error) {
	var stats Stats
	cursor := mo.None[string]()

	for {
		page, err := pass.Fetch(ctx, cursor)
		if err != nil {
			return stats, fmt.Errorf("%w: %s page %d: %v", ErrUpstream, pass.Name, stats.Pages+1, err)
		}
		stats.Pages++
		stats.Fetched += len(page.Items)

		kept := page.Items
		if pass.Keep != nil {
			kept = make([]T, 0, len(page.Items))
			for _, item := range page.Items {
				if pass.Keep(item) {
					kept = append(kept, item)
				}
			}
		}

		if len(kept) > 0 {
			if err := pass.Store(ctx, kept); err != nil {
				return stats, fmt.Errorf("failed to store %s page %d: %w", pass.Name, stats.Pages, err)
			}
			stats.Stored += len(kept)
		}

		log.Debug("Processed page",
			zap.String("pass", pass.Name),
			zap.Int("page", stats.Pages),
			zap.Int("fetched", len(page.Items)),
			zap.Int("stored", len(kept)),
			zap.Bool("has_next_page", page.HasNextPage))

		if !page.HasNextPage {
			return stats, nil
		}
		if pass.StopWhen != nil && pass.StopWhen(kept) {
			log.Debug("Stopping pagination early",
				zap.String("pass", pass.Name),
				zap.Int("page", stats.Pages))
			return stats, nil
		}
		cursor = mo.Some(page.EndCursor)
	}
}
