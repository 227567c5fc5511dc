// Package reftab provides the handle tables runtimes use to hand out
// references. Each table stamps its handles with a tag so refs from
// different tables (locals of different threads, globals) never collide.
// Tables are not safe for concurrent use.
package reftab

// TagShift is the bit position where table tags start. Tags must fit in the
// bits above it.
const TagShift = 48

const idMask = uint64(1)<<TagShift - 1

type Table[T any] struct {
	items map[uint64]T
	tag   uint64
	next  uint64
}

// New creates a table whose handles carry tag in their high bits. tag must
// be non-zero so that no handle equals the null reference.
func New[T any](tag uint64) *Table[T] {
	return &Table[T]{
		items: make(map[uint64]T),
		tag:   tag << TagShift,
	}
}

// Tag returns the tag of a handle.
func Tag(ref uint64) uint64 {
	return ref >> TagShift
}

// Owns reports whether ref was issued by this table.
func (t *Table[T]) Owns(ref uint64) bool {
	return ref&^idMask == t.tag
}

func (t *Table[T]) Put(v T) uint64 {
	t.next++
	ref := t.tag | (t.next & idMask)
	t.items[ref] = v
	return ref
}

func (t *Table[T]) Get(ref uint64) (T, bool) {
	v, ok := t.items[ref]
	return v, ok
}

func (t *Table[T]) Delete(ref uint64) (T, bool) {
	v, ok := t.items[ref]
	if ok {
		delete(t.items, ref)
	}
	return v, ok
}

func (t *Table[T]) Len() int {
	return len(t.items)
}

// Drain removes every entry and returns the removed values.
func (t *Table[T]) Drain() []T {
	out := make([]T, 0, len(t.items))
	for ref, v := range t.items {
		out = append(out, v)
		delete(t.items, ref)
	}
	return out
}
