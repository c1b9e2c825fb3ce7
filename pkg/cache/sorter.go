package cache

// visitState tracks the DFS progress of a single item.
type visitState uint8

const (
	unvisited visitState = iota
	onStack              // Currently being visited; reaching it again means a cycle.
	visited
)

// sortFrame is an explicit DFS stack frame: the item and the index of its next dependency to follow.
type sortFrame[K comparable, V any] struct {
	key  ItemKey[K]
	item *Item[K, V]
	next int
}

// SortByDependencies orders a refresh batch so that every item comes after the batch items it depends on.
//
// Batch members always resolve to their batch item; other dependency keys are resolved through `lookup` (typically
// the cache itself). Keys that resolve to nothing are ignored. Resolved items outside of the batch are walked
// through, so A -> X -> B still puts B before A, but they are never part of the result.
// Cycles are broken at the first edge leading back onto the DFS stack.
// The result is deterministic for a fixed batch order and fixed lookup results: roots are visited in batch order and
// dependencies in their declared order. A nil lookup resolves keys against the batch only.
func SortByDependencies[K comparable, V any](
	batch []*Item[K, V], lookup func(key ItemKey[K]) (*Item[K, V], bool)) []*Item[K, V] {
	members := make(map[ItemKey[K]]*Item[K, V], len(batch))
	for _, item := range batch {
		if _, duplicate := members[item.ID()]; !duplicate {
			members[item.ID()] = item
		}
	}

	// resolve looks a dependency up once. Batch members resolve to their batch item without a lookup, so a member
	// that vanished from the cache still orders its dependents.
	resolved := make(map[ItemKey[K]]*Item[K, V])
	resolve := func(key ItemKey[K]) (*Item[K, V], bool) {
		if member, isMember := members[key]; isMember {
			return member, true
		}
		item, seen := resolved[key]
		if !seen {
			if lookup != nil {
				if current, found := lookup(key); found {
					item = current
				}
			}
			resolved[key] = item
		}
		return item, item != nil
	}

	states := make(map[ItemKey[K]]visitState, len(batch))
	sorted := make([]*Item[K, V], 0, len(members))
	stack := make([]sortFrame[K, V], 0)
	for _, root := range batch {
		if states[root.ID()] != unvisited {
			continue
		}
		states[root.ID()] = onStack
		stack = append(stack, sortFrame[K, V]{key: root.ID(), item: members[root.ID()]})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.item.dependencies) {
				depKey := top.item.dependencies[top.next]
				top.next++
				// Visited items are already placed; items on the stack close a cycle.
				if states[depKey] != unvisited {
					continue
				}
				dep, found := resolve(depKey)
				if !found {
					continue
				}
				states[depKey] = onStack
				stack = append(stack, sortFrame[K, V]{key: depKey, item: dep})
				continue
			}
			// Post-order: all dependencies of the frame are placed, so the frame itself can follow.
			done := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			states[done.key] = visited
			if member, isMember := members[done.key]; isMember {
				sorted = append(sorted, member)
			}
		}
	}
	return sorted
}
