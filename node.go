package refmap

import (
	"runtime"
	"sync/atomic"
	"unsafe"
	"weak"
)

// ref holds one key or value according to its strength. Strong refs
// keep the value inline. Weak and Soft refs keep a weak handle, and a
// Soft ref additionally keeps a strong pin until memory pressure is
// reported. A ref is shared by a node and its resize clones, so it is
// never mutated apart from the pin.
type ref[T any] struct {
	strength Strength
	val      T
	handle   weak.Pointer[byte]
	pin      atomic.Pointer[byte]
	cleanup  runtime.Cleanup
}

// newRef wraps v. For Weak and Soft strengths a cleanup is attached to
// the referent that posts notice on the reclamation queue once the
// referent is collected. The referent must be a heap object of non-zero
// size.
func newRef[T any](s Strength, v T, notice reclaimable) *ref[T] {
	r := &ref[T]{strength: s}
	if !s.isReference() {
		r.val = v
		return r
	}
	p := (*byte)(pointerOf(v))
	r.handle = weak.Make(p)
	if s == Soft {
		r.pin.Store(p)
	}
	startReclamation()
	r.cleanup = runtime.AddCleanup(p, enqueueReclaim, notice)
	return r
}

// get returns the referent, or false once it has been collected.
func (r *ref[T]) get() (v T, ok bool) {
	if !r.strength.isReference() {
		return r.val, true
	}
	if p := r.pin.Load(); p != nil {
		return fromPointer[T](unsafe.Pointer(p)), true
	}
	if p := r.handle.Value(); p != nil {
		return fromPointer[T](unsafe.Pointer(p)), true
	}
	return v, false
}

func (r *ref[T]) unpin() bool {
	return r.strength == Soft && r.pin.Swap(nil) != nil
}

// detach cancels the pending collection notice of a ref that is no
// longer linked into the map.
func (r *ref[T]) detach() {
	if r != nil && r.strength.isReference() {
		r.cleanup.Stop()
	}
}

// node is one entry of a bucket chain. locator and the key are fixed at
// construction; the value box is swapped atomically; next is only
// written under the segment lock and read without it.
type node[K, V any] struct {
	locator uint32
	key     K       // Strong keys
	keyRef  *ref[K] // Weak and Soft keys
	value   atomic.Pointer[ref[V]]
	next    atomic.Pointer[node[K, V]]
}

func (m *Map[K, V]) newNode(h uint32, key K, value V, next *node[K, V]) *node[K, V] {
	n := &node[K, V]{locator: h}
	if m.keyStrength.isReference() {
		n.keyRef = newRef(m.keyStrength, key, m.notice(m.keyStrength, h))
	} else {
		n.key = key
	}
	if m.valueStrength != selfValue {
		n.value.Store(newRef(m.valueStrength, value, m.notice(m.valueStrength, h)))
	}
	n.next.Store(next)
	return n
}

// cloneNode copies p in front of next for a resized table. It returns
// nil when p has been reclaimed.
func (m *Map[K, V]) cloneNode(p, next *node[K, V]) *node[K, V] {
	if !m.isLive(p) {
		return nil
	}
	n := &node[K, V]{locator: p.locator, key: p.key, keyRef: p.keyRef}
	n.value.Store(p.value.Load())
	n.next.Store(next)
	return n
}

func (m *Map[K, V]) loadKey(n *node[K, V]) (K, bool) {
	if n.keyRef == nil {
		return n.key, true
	}
	return n.keyRef.get()
}

func (m *Map[K, V]) loadValue(n *node[K, V]) (v V, ok bool) {
	if m.valueStrength == selfValue {
		k, ok := m.loadKey(n)
		if !ok {
			return v, false
		}
		return *(*V)(unsafe.Pointer(&k)), true
	}
	return n.value.Load().get()
}

// loadEntry returns both halves of n, or false if either is gone.
func (m *Map[K, V]) loadEntry(n *node[K, V]) (k K, v V, ok bool) {
	if k, ok = m.loadKey(n); !ok {
		return
	}
	v, ok = m.loadValue(n)
	return
}

func (m *Map[K, V]) isLive(n *node[K, V]) bool {
	_, _, ok := m.loadEntry(n)
	return ok
}

// setValue replaces the value of n. Sets keep their value in the key.
func (m *Map[K, V]) setValue(n *node[K, V], value V) {
	if m.valueStrength == selfValue {
		return
	}
	old := n.value.Swap(newRef(m.valueStrength, value, m.notice(m.valueStrength, n.locator)))
	old.detach()
}

// detachNode cancels the collection notices of an unlinked node.
func (m *Map[K, V]) detachNode(n *node[K, V]) {
	n.keyRef.detach()
	if m.valueStrength != selfValue {
		n.value.Load().detach()
	}
}

// releaseNode drops the soft pins of n and reports how many were held.
func (m *Map[K, V]) releaseNode(n *node[K, V]) int {
	released := 0
	if n.keyRef != nil && n.keyRef.unpin() {
		released++
	}
	if m.valueStrength == Soft && n.value.Load().unpin() {
		released++
	}
	return released
}
