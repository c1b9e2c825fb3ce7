// The engine is the policy layer of tickcache: it owns the logical clock, stamps items with it, and sweeps every
// scope on each tick to expire items and refresh stale ones. Storage, eviction-by-size and concurrency of the items
// themselves are left to the Store.

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/nobletooth/tickcache/pkg/scan"
	"golang.org/x/sync/singleflight"
)

// Engine is a scoped cache driven by a logical clock. Reads and writes may come from any number of goroutines,
// while Tick is expected to be called by a single scheduler.
type Engine[K comparable, V any] struct {
	store     Store[K, V]
	refresher Refresher[K, V] // Optional; without it stale items are only counted.
	now       atomic.Int64    // The logical clock; only moves forward.
	loads     singleflight.Group
}

var _ RefreshTarget[string, int] = (*Engine[string, int])(nil)

// NewEngine is the constructor for Engine. The `refresher` may be nil.
func NewEngine[K comparable, V any](store Store[K, V], refresher Refresher[K, V]) *Engine[K, V] {
	return &Engine[K, V]{store: store, refresher: refresher}
}

// guard runs a store operation, turning store panics and unexpected errors into ErrInternal.
// ErrInvalidScope is passed through unchanged.
func guard[T any](op string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, err = zero, fmt.Errorf("%w: %s: %w", ErrInternal, op, recovered(r))
		}
	}()
	result, err = fn()
	return result, internalError(op, err)
}

// Now returns the current tick.
func (e *Engine[K, V]) Now() Ticks {
	return Ticks(e.now.Load())
}

func (e *Engine[K, V]) HasScope(name string) bool {
	found, err := guard("has_scope", func() (bool, error) { return e.store.HasScope(name), nil })
	return err == nil && found
}

func (e *Engine[K, V]) Scopes() []string {
	scopes, err := guard("scopes", func() ([]string, error) { return e.store.Scopes(), nil })
	if err != nil {
		slog.Error("Failed to list cache scopes.", "error", err)
		return nil
	}
	return scopes
}

// AddScope registers a scope. `maxItems` is a hint for the store; zero or negative means the store default.
func (e *Engine[K, V]) AddScope(name string, maxItems int) error {
	_, err := guard("add_scope", func() (struct{}, error) { return struct{}{}, e.store.AddScope(name, maxItems) })
	return err
}

// RemoveScope drops a scope and all of its items.
func (e *Engine[K, V]) RemoveScope(name string) error {
	_, err := guard("remove_scope", func() (struct{}, error) { return struct{}{}, e.store.RemoveScope(name) })
	return err
}

func (e *Engine[K, V]) Size(scope string) (int, error) {
	return guard("size", func() (int, error) { return e.store.Size(scope) })
}

func (e *Engine[K, V]) Keys(scope string) ([]K, error) {
	return guard("keys", func() ([]K, error) { return e.store.Keys(scope) })
}

func (e *Engine[K, V]) HasKey(scope string, key K) (bool, error) {
	return guard("has_key", func() (bool, error) { return e.store.HasKey(scope, key) })
}

// Get returns the item stored under (scope, key). Get never runs recipes.
func (e *Engine[K, V]) Get(scope string, key K) (*Item[K, V], bool, error) {
	var found bool
	item, err := guard("get", func() (*Item[K, V], error) {
		item, itemFound, err := e.store.Get(scope, key)
		found = itemFound
		return item, err
	})
	if err != nil {
		return nil, false, err
	}
	if found {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
	return item, found, nil
}

// Peek returns the item stored under (scope, key) without counting as a lookup, neither in the metrics nor for the
// eviction policy of the store.
func (e *Engine[K, V]) Peek(scope string, key K) (*Item[K, V], bool, error) {
	var found bool
	item, err := guard("peek", func() (*Item[K, V], error) {
		item, itemFound, err := e.store.Peek(scope, key)
		found = itemFound && item != nil
		return item, err
	})
	if err != nil {
		return nil, false, err
	}
	return item, found, nil
}

// Put stores a value that never expires and never refreshes.
func (e *Engine[K, V]) Put(scope string, key K, value V) error {
	return e.PutWith(scope, key, value, Forever[K, V]())
}

// PutWith stores a value stamped with the current tick. Negative ticks fail with ErrInvalidArgument.
func (e *Engine[K, V]) PutWith(scope string, key K, value V, opts PutOptions[K, V]) error {
	item, err := NewItem(scope, key, value, e.Now(), opts)
	if err != nil {
		return err
	}
	_, err = guard("put", func() (struct{}, error) { return struct{}{}, e.store.Put(item) })
	return err
}

// Remove returns true if an item was actually removed.
func (e *Engine[K, V]) Remove(scope string, key K) (bool, error) {
	return guard("remove", func() (bool, error) { return e.store.Remove(scope, key) })
}

// RemoveMatching removes every key of the scope whose printed form matches the glob `pattern` and returns how many
// items were removed.
func (e *Engine[K, V]) RemoveMatching(scope, pattern string) (int, error) {
	match, err := scan.CompileGlob(pattern)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	keys, err := e.Keys(scope)
	if err != nil {
		return 0, err
	}
	removedCount := 0
	for _, key := range keys {
		if !match(fmt.Sprint(key)) {
			continue
		}
		removed, err := e.Remove(scope, key)
		if err != nil {
			return removedCount, err
		}
		if removed {
			removedCount++
		}
	}
	return removedCount, nil
}

func (e *Engine[K, V]) Clear(scope string) error {
	_, err := guard("clear", func() (struct{}, error) { return struct{}{}, e.store.Clear(scope) })
	return err
}

// ClearAll drops every item of every scope. Scopes stay registered.
func (e *Engine[K, V]) ClearAll() error {
	_, err := guard("clear_all", func() (struct{}, error) { return struct{}{}, e.store.ClearAll() })
	return err
}

func (e *Engine[K, V]) Statistics(scope string) (Statistics, error) {
	return guard("statistics", func() (Statistics, error) { return e.store.Statistics(scope) })
}

// Load returns the cached value of (scope, key) or, on a miss, computes it with `opts.Recipe` and stores it with
// `opts`, so that the value keeps refreshing on schedule. Concurrent loads of the same key share one recipe call.
// A recipe reporting no value fails with ErrNotFound and stores nothing.
func (e *Engine[K, V]) Load(ctx context.Context, scope string, key K, opts PutOptions[K, V]) (V, error) {
	var zero V
	if item, found, err := e.Get(scope, key); err != nil {
		return zero, err
	} else if found {
		return item.Value(), nil
	}
	if opts.Recipe == nil {
		return zero, fmt.Errorf("%w: load without a recipe", ErrInvalidArgument)
	}
	if opts.ExpireAfter < 0 || opts.RefreshAfter < 0 {
		return zero, fmt.Errorf("%w: negative ticks (expire %d, refresh %d)",
			ErrInvalidArgument, opts.ExpireAfter, opts.RefreshAfter)
	}

	loaded, err, _ := e.loads.Do(fmt.Sprintf("%q/%#v", scope, key), func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("recipe failed: %w", recovered(r))
			}
		}()
		value, found, err := opts.Recipe(ctx)
		if err != nil {
			return nil, fmt.Errorf("recipe failed: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("%w: %s/%v", ErrNotFound, scope, key)
		}
		if err := e.PutWith(scope, key, value, opts); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	value, _ := loaded.(V)
	return value, nil
}

// SweepFailure describes an error absorbed by a sweep. Scope level failures carry the zero key.
type SweepFailure[K comparable] struct {
	Item ItemKey[K]
	Op   string
	Err  error
}

// SweepReport summarizes a single tick.
type SweepReport[K comparable] struct {
	Tick     Ticks
	Swept    int          // Items examined.
	Expired  []ItemKey[K] // Items removed because they expired.
	Stale    []ItemKey[K] // Items handed to the refresher, in sweep order.
	Refresh  RefreshReport[K]
	Failures []SweepFailure[K]
}

// Tick advances the clock by one and sweeps every scope: expired items are removed and items due for a refresh are
// handed to the refresher. Tick never fails; every error is logged and reported, and a broken item or scope never
// stops the rest of the cache from being maintained.
func (e *Engine[K, V]) Tick(ctx context.Context) SweepReport[K] {
	now := Ticks(e.now.Add(1))
	clockTicks.Inc()
	report := SweepReport[K]{Tick: now}

	stale := make([]*Item[K, V], 0)
	for _, scope := range e.Scopes() {
		stale = append(stale, e.sweepScope(now, scope, &report)...)
	}

	if len(stale) > 0 && e.refresher != nil {
		report.Refresh = e.refresh(ctx, stale, &report)
	}

	for _, failure := range report.Failures {
		slog.Error("Cache sweep failure.", "tick", now, "scope", failure.Item.Scope, "key", failure.Item.Key,
			"op", failure.Op, "error", failure.Err)
	}
	sweepFailures.Add(float64(len(report.Failures)))
	slog.Debug("Cache sweep finished.", "tick", now,
		"swept", humanize.Comma(int64(report.Swept)),
		"expired", humanize.Comma(int64(len(report.Expired))),
		"stale", humanize.Comma(int64(len(report.Stale))),
		"refreshFailures", len(report.Refresh.Failed()),
		"sweepFailures", len(report.Failures))
	return report
}

// sweepScope classifies the items of one scope and returns the stale ones. Keys are snapshotted first and every item
// is re-fetched, so items removed in the meantime are simply skipped.
func (e *Engine[K, V]) sweepScope(now Ticks, scope string, report *SweepReport[K]) []*Item[K, V] {
	keys, err := e.Keys(scope)
	if errors.Is(err, ErrInvalidScope) { // Removed since Scopes() was listed.
		return nil
	}
	if err != nil {
		failure := SweepFailure[K]{Item: ItemKey[K]{Scope: scope}, Op: "keys", Err: err}
		report.Failures = append(report.Failures, failure)
		return nil
	}

	stale := make([]*Item[K, V], 0)
	for _, key := range keys {
		id := ItemKey[K]{Scope: scope, Key: key}
		// Sweeps must not count as accesses.
		item, found, err := e.Peek(scope, key)
		if errors.Is(err, ErrInvalidScope) {
			return stale
		}
		if err != nil {
			report.Failures = append(report.Failures, SweepFailure[K]{Item: id, Op: "peek", Err: err})
			continue
		}
		if !found {
			sweptItems.WithLabelValues("vanished").Inc()
			continue
		}
		report.Swept++

		switch {
		case item.IsExpired(now):
			// Only the fetched item is removed; a value stored in the meantime is fresh and stays.
			removed, err := guard("expire", func() (bool, error) { return e.store.RemoveItem(item) })
			if errors.Is(err, ErrInvalidScope) {
				return stale
			}
			if err != nil {
				report.Failures = append(report.Failures, SweepFailure[K]{Item: id, Op: "expire", Err: err})
				continue
			}
			if !removed {
				sweptItems.WithLabelValues("replaced").Inc()
				continue
			}
			sweptItems.WithLabelValues("expired").Inc()
			report.Expired = append(report.Expired, id)
		case item.NeedsRefresh(now):
			sweptItems.WithLabelValues("stale").Inc()
			report.Stale = append(report.Stale, id)
			stale = append(stale, item)
		default:
			sweptItems.WithLabelValues("fresh").Inc()
		}
	}
	return stale
}

// refresh hands the stale items to the refresher, absorbing a refresher panic as a single failure.
func (e *Engine[K, V]) refresh(ctx context.Context, stale []*Item[K, V], report *SweepReport[K]) (
	refreshReport RefreshReport[K]) {
	defer func() {
		if r := recover(); r != nil {
			report.Failures = append(report.Failures, SweepFailure[K]{Op: "refresh", Err: recovered(r)})
		}
	}()
	return e.refresher.Refresh(ctx, e, stale)
}
