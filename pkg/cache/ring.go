package cache

// ringNode is a node of a circular doubly linked list.
type ringNode[V any] struct {
	next  *ringNode[V]
	prev  *ringNode[V]
	Value V
}

// clockRing is a circular doubly linked list; the node after the back is the front again. The CLOCK hand sweeps
// over it without having to care about wrapping around.
type clockRing[V any] struct {
	head *ringNode[V]
	size int
}

// Len returns the number of nodes in the ring.
func (r *clockRing[V]) Len() int {
	return r.size
}

// Front returns the oldest node of the ring or nil if the ring is empty.
func (r *clockRing[V]) Front() *ringNode[V] {
	return r.head
}

// Next returns the node after `n`, wrapping around at the back.
func (r *clockRing[V]) Next(n *ringNode[V]) *ringNode[V] {
	return n.next
}

// PushBack inserts a new value right before the front, i.e. at the back of the ring.
func (r *clockRing[V]) PushBack(v V) *ringNode[V] {
	n := &ringNode[V]{Value: v}
	if r.head == nil { // Ring was empty; a single node points to itself.
		n.next, n.prev = n, n
		r.head = n
	} else {
		tail := r.head.prev
		n.prev, n.next = tail, r.head
		tail.next = n
		r.head.prev = n
	}
	r.size++
	return n
}

// Remove unlinks `n` and returns the node that followed it, or nil if the ring became empty.
func (r *clockRing[V]) Remove(n *ringNode[V]) *ringNode[V] {
	var next *ringNode[V]
	if r.size > 1 {
		next = n.next
		n.prev.next = n.next
		n.next.prev = n.prev
		if r.head == n {
			r.head = next
		}
	} else {
		r.head = nil
	}
	// Clean up the removed node's pointers.
	n.next, n.prev = nil, nil
	r.size--
	return next
}

// Values returns the ring values starting at the front.
func (r *clockRing[V]) Values() []V {
	values := make([]V, 0, r.size)
	node := r.head
	for range r.size {
		values = append(values, node.Value)
		node = node.next
	}
	return values
}
