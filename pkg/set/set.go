package set

import (
	"slices"

	"golang.org/x/exp/constraints"
)

// Set is a generic, thread-unsafe set of comparable items.
type Set[T comparable] struct {
	items map[T]struct{}
}

// New creates a Set holding elems.
func New[T comparable](elems ...T) Set[T] {
	s := Set[T]{
		items: make(map[T]struct{}, len(elems)),
	}
	s.Append(elems...)
	return s
}

// Append inserts elements into the set
func (s Set[T]) Append(elems ...T) {
	for _, elem := range elems {
		s.items[elem] = struct{}{}
	}
}

// Contains reports whether elem is in the set. The zero Set contains nothing.
func (s Set[T]) Contains(elem T) bool {
	_, ok := s.items[elem]
	return ok
}

func (s Set[T]) Len() int {
	return len(s.items)
}

// Values returns all elements in the set as an unsorted slice
func (s Set[T]) Values() []T {
	v := make([]T, 0, len(s.items))
	for elem := range s.items {
		v = append(v, elem)
	}
	return v
}

// Ordered is a set of ordered elements that supports sorted Values
type Ordered[T constraints.Ordered] struct {
	Set[T]
}

func NewOrdered[T constraints.Ordered](elems ...T) Ordered[T] {
	return Ordered[T]{
		Set: New(elems...),
	}
}

// Values returns all elements in ascending order.
func (s Ordered[T]) Values() []T {
	v := s.Set.Values()
	slices.Sort(v)
	return v
}

// Max returns the largest element, or false when the set is empty.
func (s Ordered[T]) Max() (T, bool) {
	var zero T
	if s.Len() == 0 {
		return zero, false
	}
	return slices.Max(s.Set.Values()), true
}
