package refmap

import "iter"

// KeySetView is a live view of the keys of a Map.
type KeySetView[K, V any] struct{ m *Map[K, V] }

// ValuesView is a live view of the values of a Map.
type ValuesView[K, V any] struct{ m *Map[K, V] }

// EntrySetView is a live view of the entries of a Map.
type EntrySetView[K, V any] struct{ m *Map[K, V] }

// KeySet returns the key view of m. Every call returns the same view.
func (m *Map[K, V]) KeySet() *KeySetView[K, V] {
	if v := m.keySet.Load(); v != nil {
		return v
	}
	m.keySet.CompareAndSwap(nil, &KeySetView[K, V]{m: m})
	return m.keySet.Load()
}

// Values returns the value view of m. Every call returns the same view.
func (m *Map[K, V]) Values() *ValuesView[K, V] {
	if v := m.values.Load(); v != nil {
		return v
	}
	m.values.CompareAndSwap(nil, &ValuesView[K, V]{m: m})
	return m.values.Load()
}

// EntrySet returns the entry view of m. Every call returns the same view.
func (m *Map[K, V]) EntrySet() *EntrySetView[K, V] {
	if v := m.entrySet.Load(); v != nil {
		return v
	}
	m.entrySet.CompareAndSwap(nil, &EntrySetView[K, V]{m: m})
	return m.entrySet.Load()
}

func (v *KeySetView[K, V]) Len() int                    { return v.m.Size() }
func (v *KeySetView[K, V]) IsEmpty() bool               { return v.m.IsEmpty() }
func (v *KeySetView[K, V]) Contains(key K) bool         { return v.m.ContainsKey(key) }
func (v *KeySetView[K, V]) Clear()                      { v.m.Clear() }
func (v *KeySetView[K, V]) Iterator() *Iterator[K, V]   { return newIterator(v.m) }
func (v *KeySetView[K, V]) All() iter.Seq[K]            { return v.m.Keys() }
func (v *ValuesView[K, V]) Len() int                    { return v.m.Size() }
func (v *ValuesView[K, V]) IsEmpty() bool               { return v.m.IsEmpty() }
func (v *ValuesView[K, V]) Contains(value V) bool       { return v.m.ContainsValue(value) }
func (v *ValuesView[K, V]) Clear()                      { v.m.Clear() }
func (v *ValuesView[K, V]) Iterator() *Iterator[K, V]   { return newIterator(v.m) }
func (v *ValuesView[K, V]) All() iter.Seq[V]            { return v.m.ValuesSeq() }
func (v *EntrySetView[K, V]) Len() int                  { return v.m.Size() }
func (v *EntrySetView[K, V]) IsEmpty() bool             { return v.m.IsEmpty() }
func (v *EntrySetView[K, V]) Clear()                    { v.m.Clear() }
func (v *EntrySetView[K, V]) Iterator() *Iterator[K, V] { return newIterator(v.m) }

// Remove deletes key from the map and reports whether it was present.
func (v *KeySetView[K, V]) Remove(key K) bool {
	_, ok := v.m.Remove(key)
	return ok
}

// Remove deletes one entry whose value is equivalent to value and
// reports whether there was one.
func (v *ValuesView[K, V]) Remove(value V) bool {
	v.m.checkValue("values remove", value)
	it := newIterator(v.m)
	for it.Next() {
		if v.m.valEq.Equal(it.Value(), value) && v.m.RemoveIf(it.Key(), value) {
			return true
		}
	}
	return false
}

// Contains reports whether key is mapped to a value equivalent to value.
func (v *EntrySetView[K, V]) Contains(key K, value V) bool {
	v.m.checkValue("entries contains", value)
	cur, ok := v.m.Get(key)
	return ok && v.m.valEq.Equal(cur, value)
}

// Remove deletes key if it is mapped to a value equivalent to value.
func (v *EntrySetView[K, V]) Remove(key K, value V) bool {
	return v.m.RemoveIf(key, value)
}

// All is an iterator over the entries of the map. The yielded entries
// write through to the map.
func (v *EntrySetView[K, V]) All() iter.Seq[*Entry[K, V]] {
	return func(yield func(*Entry[K, V]) bool) {
		v.m.Range(func(k K, val V) bool {
			return yield(&Entry[K, V]{m: v.m, key: k, value: val})
		})
	}
}
