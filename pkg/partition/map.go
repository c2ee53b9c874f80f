package partition

import (
	"fmt"
	"slices"
)

// Map associates partitions with values of type T. Absence is explicit:
// callers use Get for optional partitions and Require for mandatory ones.
type Map[T any] struct {
	entries map[Name]T
}

func NewMap[T any]() Map[T] {
	return Map[T]{entries: make(map[Name]T)}
}

func (m *Map[T]) Set(n Name, v T) {
	if m.entries == nil {
		m.entries = make(map[Name]T)
	}
	m.entries[n] = v
}

func (m Map[T]) Get(n Name) (T, bool) {
	v, ok := m.entries[n]
	return v, ok
}

// Require returns the value for n or an error wrapping ErrMissingPartition.
func (m Map[T]) Require(n Name) (T, error) {
	v, ok := m.entries[n]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrMissingPartition, n)
	}
	return v, nil
}

func (m Map[T]) Has(n Name) bool {
	_, ok := m.entries[n]
	return ok
}

func (m Map[T]) Len() int {
	return len(m.entries)
}

// Names returns the present partitions in lexical order.
func (m Map[T]) Names() []Name {
	names := make([]Name, 0, len(m.entries))
	for n := range m.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Keys returns the present partitions as a Set.
func (m Map[T]) Keys() Set {
	s := make(Set, len(m.entries))
	for n := range m.entries {
		s[n] = struct{}{}
	}
	return s
}
