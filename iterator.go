package refmap

import (
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"
)

// Iterator walks a Map from the highest segment to the lowest, each
// segment from its last bucket to its first, each bucket in chain order.
// It is weakly consistent: it never fails because of concurrent writes,
// it returns every entry present for the whole iteration exactly once,
// and it may or may not return entries added or removed meanwhile.
//
// An Iterator must not be used by more than one goroutine at a time.
//
//	it := m.EntrySet().Iterator()
//	for it.Next() {
//		if stale(it.Value()) {
//			_ = it.Remove()
//		}
//	}
type Iterator[K, V any] struct {
	m *Map[K, V]

	segIndex    int
	tab         *bucketTable[K, V]
	bucketIndex int

	next      *node[K, V]
	nextKey   K
	nextValue V

	key       K
	value     V
	canRemove bool
}

func newIterator[K, V any](m *Map[K, V]) *Iterator[K, V] {
	it := &Iterator[K, V]{m: m, segIndex: numSegments - 1, bucketIndex: -1}
	it.advance()
	return it
}

// advance moves to the next live node. Dead nodes met on the way are
// swept when their segment is not busy.
func (it *Iterator[K, V]) advance() {
	if it.next != nil {
		it.next = it.next.next.Load()
	}
	for {
		if it.next != nil {
			if k, v, ok := it.m.loadEntry(it.next); ok {
				it.nextKey, it.nextValue = k, v
				return
			}
			dead := it.next
			it.next = dead.next.Load()
			it.m.tryRemoveIfReclaimed(dead.locator)
			continue
		}
		if it.bucketIndex >= 0 {
			it.next = it.tab.buckets[it.bucketIndex].Load()
			it.bucketIndex--
			continue
		}
		if it.segIndex < 0 {
			var zk K
			var zv V
			it.nextKey, it.nextValue, it.tab = zk, zv, nil
			return
		}
		if s := it.m.segments[it.segIndex].Load(); s != nil {
			if t := s.table.Load(); t != nil {
				it.tab = t
				it.bucketIndex = len(t.buckets) - 1
			}
		}
		it.segIndex--
	}
}

// Next moves to the next entry and reports whether there is one.
func (it *Iterator[K, V]) Next() bool {
	if it.next == nil {
		return false
	}
	it.key, it.value = it.nextKey, it.nextValue
	it.canRemove = true
	it.advance()
	return true
}

// Key returns the key of the current entry.
func (it *Iterator[K, V]) Key() K { return it.key }

// Value returns the value of the current entry.
func (it *Iterator[K, V]) Value() V { return it.value }

// Entry returns the current entry.
func (it *Iterator[K, V]) Entry() *Entry[K, V] {
	return &Entry[K, V]{m: it.m, key: it.key, value: it.value}
}

// Remove deletes the current key from the map. It returns
// ErrIllegalState if Next has not returned true since the last Remove.
func (it *Iterator[K, V]) Remove() error {
	if !it.canRemove {
		return ErrIllegalState
	}
	it.canRemove = false
	it.m.Remove(it.key)
	return nil
}

// Entry is a key-value pair returned by an iterator. Setting its value
// writes through to the map.
type Entry[K, V any] struct {
	m     *Map[K, V]
	key   K
	value V
}

func (e *Entry[K, V]) Key() K   { return e.key }
func (e *Entry[K, V]) Value() V { return e.value }

// SetValue puts value under the entry's key and returns the value the
// entry held before.
func (e *Entry[K, V]) SetValue(value V) V {
	old := e.value
	e.m.Put(e.key, value)
	e.value = value
	return old
}

func (e *Entry[K, V]) String() string {
	return fmt.Sprintf("%v=%v", e.key, e.value)
}

// rangeSegment calls yield for every live entry of s in iteration order
// and reports whether yield asked to continue.
func (m *Map[K, V]) rangeSegment(s *segment[K, V], yield func(K, V) bool) bool {
	tab := s.table.Load()
	if tab == nil {
		return true
	}
	for i := len(tab.buckets) - 1; i >= 0; i-- {
		for p := tab.buckets[i].Load(); p != nil; p = p.next.Load() {
			k, v, ok := m.loadEntry(p)
			if !ok {
				m.tryRemoveIfReclaimed(p.locator)
				continue
			}
			if !yield(k, v) {
				return false
			}
		}
	}
	return true
}

// Range calls yield for each entry in iteration order until yield
// returns false. Range takes no lock and has the same consistency as
// Iterator.
func (m *Map[K, V]) Range(yield func(key K, value V) bool) {
	for i := len(m.segments) - 1; i >= 0; i-- {
		if s := m.segments[i].Load(); s != nil && !m.rangeSegment(s, yield) {
			return
		}
	}
}

// All is an iterator over the entries of the map.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// Keys is an iterator over the keys of the map.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.Range(func(k K, _ V) bool { return yield(k) })
	}
}

// ValuesSeq is an iterator over the values of the map.
func (m *Map[K, V]) ValuesSeq() iter.Seq[V] {
	return func(yield func(V) bool) {
		m.Range(func(_ K, v V) bool { return yield(v) })
	}
}

// ForEach calls fn for every entry, visiting up to parallelism segments
// concurrently (all of them when parallelism <= 0). It is safe to run
// while other goroutines modify the map; fn must itself be safe for
// concurrent use.
func (m *Map[K, V]) ForEach(parallelism int, fn func(key K, value V)) {
	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i := len(m.segments) - 1; i >= 0; i-- {
		s := m.segments[i].Load()
		if s == nil {
			continue
		}
		g.Go(func() error {
			m.rangeSegment(s, func(k K, v V) bool {
				fn(k, v)
				return true
			})
			return nil
		})
	}
	_ = g.Wait()
}
