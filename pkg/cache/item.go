package cache

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// Ticks counts logical clock ticks. Expiration and refresh deadlines are expressed in ticks rather than wall time,
// so the cache behaves the same whether it's ticked every second or every hour.
type Ticks int64

// Never is the expire/refresh sentinel meaning the deadline is never reached.
const Never = Ticks(math.MaxInt64)

// Recipe recomputes the value of a cached item. Parameters the computation needs are captured by the closure.
// A recipe reports `found == false` when the value no longer exists, which evicts the item on refresh.
type Recipe[V any] func(ctx context.Context) (value V, found bool, err error)

// ItemKey is the canonical (scope, key) identity of an item. The same key in two scopes names two unrelated items.
type ItemKey[K comparable] struct {
	Scope string
	Key   K
}

func (k ItemKey[K]) String() string {
	return fmt.Sprintf("%s/%v", k.Scope, k.Key)
}

// Item is an immutable cache record: a value, its timing and how to recompute it. Items are replaced, never
// mutated; equality only considers the (scope, key) pair.
type Item[K comparable, V any] struct {
	scope        string
	key          K
	value        V
	createdAt    Ticks // Tick of the insertion or last refresh.
	expireAfter  Ticks // Ticks after createdAt at which the item is evicted.
	refreshAfter Ticks // Ticks after createdAt at which the recipe runs again.
	recipe       Recipe[V]
	dependencies []ItemKey[K] // Items this value was derived from; only used for refresh ordering.
}

// NewItem builds an item created at tick `now`. Negative durations are rejected with ErrInvalidArgument.
func NewItem[K comparable, V any](scope string, key K, value V, now Ticks, opts PutOptions[K, V]) (*Item[K, V], error) {
	if opts.ExpireAfter < 0 {
		return nil, fmt.Errorf("%w: negative expire ticks %d", ErrInvalidArgument, opts.ExpireAfter)
	}
	if opts.RefreshAfter < 0 {
		return nil, fmt.Errorf("%w: negative refresh ticks %d", ErrInvalidArgument, opts.RefreshAfter)
	}
	return &Item[K, V]{
		scope:        scope,
		key:          key,
		value:        value,
		createdAt:    now,
		expireAfter:  opts.ExpireAfter,
		refreshAfter: opts.RefreshAfter,
		recipe:       opts.Recipe,
		dependencies: slices.Clone(opts.Dependencies),
	}, nil
}

func (i *Item[K, V]) Scope() string {
	return i.scope
}

func (i *Item[K, V]) Key() K {
	return i.key
}

func (i *Item[K, V]) ID() ItemKey[K] {
	return ItemKey[K]{Scope: i.scope, Key: i.key}
}

func (i *Item[K, V]) Value() V {
	return i.value
}

func (i *Item[K, V]) CreatedAt() Ticks {
	return i.createdAt
}

func (i *Item[K, V]) ExpireAfter() Ticks {
	return i.expireAfter
}

func (i *Item[K, V]) RefreshAfter() Ticks {
	return i.refreshAfter
}

func (i *Item[K, V]) Recipe() Recipe[V] {
	return i.recipe
}

func (i *Item[K, V]) HasRecipe() bool {
	return i.recipe != nil
}

func (i *Item[K, V]) Dependencies() []ItemKey[K] {
	return slices.Clone(i.dependencies)
}

// Options returns the put options this item was stored with, e.g. to store a refreshed value the same way.
func (i *Item[K, V]) Options() PutOptions[K, V] {
	return PutOptions[K, V]{
		ExpireAfter:  i.expireAfter,
		RefreshAfter: i.refreshAfter,
		Recipe:       i.recipe,
		Dependencies: slices.Clone(i.dependencies),
	}
}

// age is computed as a difference so that `createdAt + Never` never overflows.
func (i *Item[K, V]) age(now Ticks) Ticks {
	return now - i.createdAt
}

// IsExpired reports whether the item has outlived its expiration at tick `now`.
func (i *Item[K, V]) IsExpired(now Ticks) bool {
	return i.expireAfter != Never && i.age(now) >= i.expireAfter
}

// NeedsRefresh reports whether the item can and should be recomputed at tick `now`.
func (i *Item[K, V]) NeedsRefresh(now Ticks) bool {
	return i.recipe != nil && i.refreshAfter != Never && i.age(now) >= i.refreshAfter
}

// Equal compares identities only; value, timing and recipe are irrelevant.
func (i *Item[K, V]) Equal(other *Item[K, V]) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID() == other.ID()
}

// PutOptions controls how a value is stored. Zero ticks are meaningful (due on the next tick), so start from
// Forever and override what's needed.
type PutOptions[K comparable, V any] struct {
	ExpireAfter  Ticks
	RefreshAfter Ticks
	Recipe       Recipe[V]
	Dependencies []ItemKey[K]
}

// Forever returns options for a value that never expires and never refreshes.
func Forever[K comparable, V any]() PutOptions[K, V] {
	return PutOptions[K, V]{ExpireAfter: Never, RefreshAfter: Never}
}
