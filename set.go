package refmap

import "iter"

// Set is a concurrent set backed by a Map whose values are its keys.
// With weak elements it serves as an interning table that forgets
// elements nobody else references.
type Set[K any] struct {
	m *Map[K, K]
}

// NewSet creates a Set comparing elements with ==.
func NewSet[K comparable](options ...func(*MapConfig)) *Set[K] {
	return NewSetWithEquivalence(Equality[K](), options...)
}

// NewSetWithEquivalence creates a Set comparing elements with eq. Value
// strength options are ignored; element strength is set with
// WithKeyStrength, WithWeakKeys or WithSoftKeys.
func NewSetWithEquivalence[K any](eq Equivalence[K], options ...func(*MapConfig)) *Set[K] {
	c := &MapConfig{}
	for _, o := range options {
		o(c)
	}
	c.valueStrength = selfValue
	return &Set[K]{m: newMap(eq, eq, c)}
}

// Add inserts k and reports whether it was not already present.
func (s *Set[K]) Add(k K) bool {
	s.m.checkKey("set add", k)
	_, loaded := s.m.put(k, k, true)
	return !loaded
}

// Intern returns the element equivalent to k already in the set, or
// inserts k and returns it.
func (s *Set[K]) Intern(k K) K {
	s.m.checkKey("set intern", k)
	if actual, loaded := s.m.put(k, k, true); loaded {
		return actual
	}
	return k
}

// Contains reports whether an element equivalent to k is present.
func (s *Set[K]) Contains(k K) bool { return s.m.ContainsKey(k) }

// Remove deletes k and reports whether it was present.
func (s *Set[K]) Remove(k K) bool {
	_, ok := s.m.Remove(k)
	return ok
}

func (s *Set[K]) Len() int      { return s.m.Size() }
func (s *Set[K]) IsEmpty() bool { return s.m.IsEmpty() }
func (s *Set[K]) Clear()        { s.m.Clear() }

// All is an iterator over the elements of the set.
func (s *Set[K]) All() iter.Seq[K] { return s.m.Keys() }

// Iterator returns an iterator over the elements; use its Key method.
func (s *Set[K]) Iterator() *Iterator[K, K] { return newIterator(s.m) }

// HashCode returns the sum of the element hashes.
func (s *Set[K]) HashCode() uint32 {
	var h uint32
	for k := range s.m.Keys() {
		h += s.m.keyEq.Hash(k)
	}
	return h
}

// Stats returns diagnostics of the backing map.
func (s *Set[K]) Stats() *MapStats { return s.m.Stats() }

// ReleaseSoft drops the pins of soft elements. See Map.ReleaseSoft.
func (s *Set[K]) ReleaseSoft() int { return s.m.ReleaseSoft() }
