package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nobletooth/tickcache/pkg/utils"
)

// RefreshTarget is where refreshed values are written back; the Engine is one. Peek must not count as an access.
type RefreshTarget[K comparable, V any] interface {
	Peek(scope string, key K) (*Item[K, V], bool, error)
	PutWith(scope string, key K, value V, opts PutOptions[K, V]) error
	Remove(scope string, key K) (bool, error)
}

// Refresher recomputes a batch of stale items. Failures are isolated per item and reported, never returned.
type Refresher[K comparable, V any] interface {
	Refresh(ctx context.Context, target RefreshTarget[K, V], batch []*Item[K, V]) RefreshReport[K]
}

// RefreshOutcome is what happened to a single item of a refresh batch.
type RefreshOutcome uint8

const (
	Refreshed RefreshOutcome = iota // The recipe produced a value and it was stored.
	Evicted                         // The recipe reported no value, so the item was removed.
	Failed                          // The recipe or the write back failed; the item stays stale.
)

func (o RefreshOutcome) String() string {
	switch o {
	case Refreshed:
		return "refreshed"
	case Evicted:
		return "evicted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// RefreshResult is the outcome of refreshing a single item.
type RefreshResult[K comparable] struct {
	Key     ItemKey[K]
	Outcome RefreshOutcome
	Err     error // Only set for Failed.
}

// RefreshReport lists the refresh results in the order the items were refreshed.
type RefreshReport[K comparable] struct {
	Results []RefreshResult[K]
}

// Order returns the keys in refresh order.
func (r RefreshReport[K]) Order() []ItemKey[K] {
	keys := make([]ItemKey[K], len(r.Results))
	for i, result := range r.Results {
		keys[i] = result.Key
	}
	return keys
}

// Count returns the number of results with the given outcome.
func (r RefreshReport[K]) Count(outcome RefreshOutcome) int {
	count := 0
	for _, result := range r.Results {
		if result.Outcome == outcome {
			count++
		}
	}
	return count
}

// Failed returns the failed results.
func (r RefreshReport[K]) Failed() []RefreshResult[K] {
	failed := make([]RefreshResult[K], 0)
	for _, result := range r.Results {
		if result.Outcome == Failed {
			failed = append(failed, result)
		}
	}
	return failed
}

// OrderedRefresher refreshes items one after another, dependencies first.
type OrderedRefresher[K comparable, V any] struct{} // Implements Refresher.

var _ Refresher[string, int] = (*OrderedRefresher[string, int])(nil)

// NewOrderedRefresher is the constructor for OrderedRefresher.
func NewOrderedRefresher[K comparable, V any]() *OrderedRefresher[K, V] {
	return &OrderedRefresher[K, V]{}
}

// Refresh sorts the batch by dependencies and refreshes every item in that order. A slow recipe only delays the
// items after it in this batch.
func (o *OrderedRefresher[K, V]) Refresh(
	ctx context.Context, target RefreshTarget[K, V], batch []*Item[K, V]) RefreshReport[K] {
	lookup := func(key ItemKey[K]) (*Item[K, V], bool) {
		item, found, err := target.Peek(key.Scope, key.Key)
		if err != nil { // Gone scopes don't block the ordering.
			return nil, false
		}
		return item, found
	}
	ordered := SortByDependencies(batch, lookup)
	report := RefreshReport[K]{Results: make([]RefreshResult[K], 0, len(ordered))}
	for _, item := range ordered {
		report.Results = append(report.Results, o.refreshItem(ctx, target, item))
	}
	return report
}

// refreshItem runs the recipe of a single item and writes the outcome back to `target`.
func (o *OrderedRefresher[K, V]) refreshItem(
	ctx context.Context, target RefreshTarget[K, V], item *Item[K, V]) (result RefreshResult[K]) {
	result.Key = item.ID()
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = Failed
			result.Err = recovered(r)
		}
		if result.Outcome == Failed {
			slog.Error("Failed to refresh cache item.",
				"scope", item.Scope(), "key", item.Key(), "op", "refresh", "error", result.Err)
		}
		refreshes.WithLabelValues(result.Outcome.String()).Inc()
	}()

	if !item.HasRecipe() {
		utils.RaiseInvariant("refresher", "stale_item_without_recipe",
			"Got a stale item without a recipe.", "scope", item.Scope(), "key", item.Key())
		return RefreshResult[K]{Key: item.ID(), Outcome: Failed,
			Err: fmt.Errorf("%w: item %s has no recipe", ErrInternal, item.ID())}
	}

	value, found, err := item.recipe(ctx)
	if err != nil {
		return RefreshResult[K]{Key: item.ID(), Outcome: Failed, Err: fmt.Errorf("recipe failed: %w", err)}
	}
	if !found {
		if _, err := target.Remove(item.Scope(), item.Key()); err != nil {
			return RefreshResult[K]{Key: item.ID(), Outcome: Failed, Err: fmt.Errorf("failed to evict: %w", err)}
		}
		return RefreshResult[K]{Key: item.ID(), Outcome: Evicted}
	}
	// Storing with the original options resets the expire and refresh countdowns.
	if err := target.PutWith(item.Scope(), item.Key(), value, item.Options()); err != nil {
		return RefreshResult[K]{Key: item.ID(), Outcome: Failed, Err: fmt.Errorf("failed to write back: %w", err)}
	}
	return RefreshResult[K]{Key: item.ID(), Outcome: Refreshed}
}
