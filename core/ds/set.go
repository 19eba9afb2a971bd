// Package ds provides small generic data structures with deterministic
// iteration order.
package ds

import (
	"encoding/json"
	"fmt"
)

// Set is an ordered set: O(1) membership and insertion-order iteration.
// Removal is O(1) amortized; the order slice is compacted lazily.
//
// Add, Extend, Remove and Clear mutate the receiver. Copy, Diff, Filter and
// Values return new values.
type Set[T comparable] struct {
	items   map[T]struct{}
	order   []T
	removed int
}

// NewSet creates a new set with the given items.
func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items)), order: make([]T, 0, len(items))}
	s.Extend(items...)
	return s
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.Values()) }

// Add reports whether v was not present before.
func (s *Set[T]) Add(v T) bool {
	if s.Contains(v) {
		return false
	}
	if s.removed > 0 {
		// v may still sit in order from an earlier removal
		s.compact()
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// Extend adds all vs and returns the ones that were actually new.
func (s *Set[T]) Extend(vs ...T) []T {
	var added []T
	for _, v := range vs {
		if s.Add(v) {
			added = append(added, v)
		}
	}
	return added
}

// Remove reports whether v was present.
func (s *Set[T]) Remove(v T) bool {
	if !s.Contains(v) {
		return false
	}
	delete(s.items, v)
	s.removed++
	if s.removed > len(s.items) {
		s.compact()
	}
	return true
}

func (s *Set[T]) compact() {
	order := make([]T, 0, len(s.items))
	for _, v := range s.order {
		if _, ok := s.items[v]; ok {
			order = append(order, v)
		}
	}
	s.order, s.removed = order, 0
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int      { return len(s.items) }
func (s *Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, 0, len(s.items))
	for _, v := range s.order {
		if _, ok := s.items[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (s *Set[T]) Clear() {
	s.items = map[T]struct{}{}
	s.order, s.removed = nil, 0
}

func (s *Set[T]) Copy() *Set[T] { return NewSet(s.Values()...) }

// Filter returns the elements for which fn is true, in insertion order.
func (s *Set[T]) Filter(fn func(T) bool) *Set[T] {
	out := NewSet[T]()
	for _, v := range s.Values() {
		if fn(v) {
			out.Add(v)
		}
	}
	return out
}

// Diff computes the transition from s to target: add holds elements only in
// target (target order), remove holds elements only in s (s order).
func (s *Set[T]) Diff(target *Set[T]) (add []T, remove []T) {
	for _, v := range target.Values() {
		if !s.Contains(v) {
			add = append(add, v)
		}
	}
	for _, v := range s.Values() {
		if !target.Contains(v) {
			remove = append(remove, v)
		}
	}
	return add, remove
}

// MarshalJSON serializes the set as an ordered JSON array.
func (s *Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var vs []T
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	s.Clear()
	s.Extend(vs...)
	return nil
}
