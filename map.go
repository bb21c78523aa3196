// Package refmap provides a concurrent hash map whose keys and values can
// each be held strongly, weakly or softly, with pluggable equivalence.
package refmap

import (
	"fmt"
	"iter"
	"math"
	"strings"
	"sync/atomic"
	"weak"

	"github.com/hashicorp/go-hclog"
)

// Map is a concurrent hash map split into 64 independently locked
// segments. Reads never take a lock. Writes lock only the segment the
// key hashes to.
//
// Key and value strengths are chosen at construction:
//   - Strong entries stay until removed.
//   - Weak entries disappear once their key or value is collected.
//   - Soft entries behave like Strong ones until memory pressure is
//     reported, then like Weak ones.
//
// Entries whose referent is collected are removed by a background
// worker and, opportunistically, by lookups and iterators that meet
// them. Until then they are invisible to every operation but may still
// be counted by Size.
//
// Weak and Soft strengths require pointer types, and the pointers stored
// must refer to heap objects of non-zero size.
//
// A Map must be created with one of the constructors and must not be
// copied after first use.
type Map[K, V any] struct {
	segments [numSegments]atomic.Pointer[segment[K, V]]

	keyEq           Equivalence[K]
	valEq           Equivalence[V]
	keyStrength     Strength
	valueStrength   Strength
	keyNilable      bool
	valueNilable    bool
	initialCapacity int
	softLimit       uint64
	logger          hclog.Logger
	self            weak.Pointer[Map[K, V]]

	reclaimed atomic.Uint64

	keySet   atomic.Pointer[KeySetView[K, V]]
	values   atomic.Pointer[ValuesView[K, V]]
	entrySet atomic.Pointer[EntrySetView[K, V]]
}

// MapConfig defines configurable Map options.
type MapConfig struct {
	sizeHint      int
	keyStrength   Strength
	valueStrength Strength
	softLimit     uint64
	logger        hclog.Logger
}

// WithPresize configures new Map instance with capacity enough
// to hold sizeHint entries without growing. If sizeHint is zero or
// negative, the value is ignored.
func WithPresize(sizeHint int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.sizeHint = sizeHint
	}
}

// WithKeyStrength sets how keys are held. Default Strong.
//
// Weak and Soft need a pointer key type whose element has non-zero
// size. Every key stored must point into the heap: a pointer to a
// package-level variable cannot be tracked by the collector and
// aborts the process when stored.
func WithKeyStrength(s Strength) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyStrength = s
	}
}

// WithValueStrength sets how values are held. Default Strong. Weak and
// Soft values carry the same restrictions as keys, see WithKeyStrength.
func WithValueStrength(s Strength) func(*MapConfig) {
	return func(c *MapConfig) {
		c.valueStrength = s
	}
}

// WithWeakKeys is shorthand for WithKeyStrength(Weak).
func WithWeakKeys() func(*MapConfig) { return WithKeyStrength(Weak) }

// WithWeakValues is shorthand for WithValueStrength(Weak).
func WithWeakValues() func(*MapConfig) { return WithValueStrength(Weak) }

// WithSoftKeys is shorthand for WithKeyStrength(Soft).
func WithSoftKeys() func(*MapConfig) { return WithKeyStrength(Soft) }

// WithSoftValues is shorthand for WithValueStrength(Soft).
func WithSoftValues() func(*MapConfig) { return WithValueStrength(Soft) }

// WithSoftLimit makes the map release its soft references automatically
// whenever, after a garbage collection, live heap objects exceed limit
// bytes. Zero, the default, leaves releasing to ReleaseSoft.
func WithSoftLimit(limit uint64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.softLimit = limit
	}
}

// WithLogger sets the logger used for the map's diagnostics.
func WithLogger(l hclog.Logger) func(*MapConfig) {
	return func(c *MapConfig) {
		c.logger = l
	}
}

// NewMap creates a Map comparing keys and values with ==.
func NewMap[K, V comparable](options ...func(*MapConfig)) *Map[K, V] {
	return NewMapWithEquivalence(Equality[K](), Equality[V](), options...)
}

// NewMapWithEquivalence creates a Map using keyEq and valEq to compare
// keys and values.
//
// It panics with a *ConfigError if either equivalence is nil, or if a
// Weak or Soft strength is requested for a non-pointer type.
func NewMapWithEquivalence[K, V any](
	keyEq Equivalence[K],
	valEq Equivalence[V],
	options ...func(*MapConfig),
) *Map[K, V] {
	c := &MapConfig{}
	for _, o := range options {
		o(c)
	}
	return newMap(keyEq, valEq, c)
}

// NewIntKeyMap creates a Map with int keys.
func NewIntKeyMap[V comparable](options ...func(*MapConfig)) *Map[int, V] {
	return NewMapWithEquivalence(Int(), Equality[V](), options...)
}

// NewIntValueMap creates a Map with int values.
func NewIntValueMap[K comparable](options ...func(*MapConfig)) *Map[K, int] {
	return NewMapWithEquivalence(Equality[K](), Int(), options...)
}

// NewIntKeyIntValueMap creates a Map from int to int.
func NewIntKeyIntValueMap(options ...func(*MapConfig)) *Map[int, int] {
	return NewMapWithEquivalence(Int(), Int(), options...)
}

func newMap[K, V any](keyEq Equivalence[K], valEq Equivalence[V], c *MapConfig) *Map[K, V] {
	if keyEq == nil {
		panic(&ConfigError{Field: "key equivalence", Err: fmt.Errorf("nil equivalence")})
	}
	if valEq == nil {
		panic(&ConfigError{Field: "value equivalence", Err: fmt.Errorf("nil equivalence")})
	}
	checkStrength[K]("key strength", c.keyStrength)
	checkStrength[V]("value strength", c.valueStrength)
	if c.keyStrength == selfValue {
		panic(&ConfigError{Field: "key strength", Err: fmt.Errorf("unknown strength %d", int(c.keyStrength))})
	}

	m := &Map[K, V]{
		keyEq:           keyEq,
		valEq:           valEq,
		keyStrength:     c.keyStrength,
		valueStrength:   c.valueStrength,
		keyNilable:      nilable[K](),
		valueNilable:    nilable[V](),
		initialCapacity: initialSegmentCapacity(c.sizeHint),
		softLimit:       c.softLimit,
		logger:          c.logger,
	}
	if m.logger == nil {
		m.logger = hclog.NewNullLogger()
	}
	m.self = weak.Make(m)
	if c.softLimit > 0 && (m.keyStrength == Soft || m.valueStrength == Soft) {
		registerSoftMap(softHandle[K, V]{owner: m.self})
	}
	m.logger.Debug("map created",
		"key_strength", m.keyStrength, "value_strength", m.valueStrength,
		"segment_capacity", m.initialCapacity)
	return m
}

func (m *Map[K, V]) checkKey(op string, key K) {
	if m.keyNilable && pointerOf(key) == nil {
		panic(&ArgumentError{Op: op, Err: ErrNilKey})
	}
}

func (m *Map[K, V]) checkValue(op string, value V) {
	if m.valueNilable && pointerOf(value) == nil {
		panic(&ArgumentError{Op: op, Err: ErrNilValue})
	}
}

func (m *Map[K, V]) isNilValue(value V) bool {
	return m.valueNilable && pointerOf(value) == nil
}

func (m *Map[K, V]) hash(key K) uint32 {
	return spreadHash(m.keyEq.Hash(key))
}

// segmentForAdd returns the segment for h, creating it if necessary.
func (m *Map[K, V]) segmentForAdd(h uint32) *segment[K, V] {
	slot := &m.segments[segmentIndex(h)]
	if s := slot.Load(); s != nil {
		return s
	}
	s := &segment[K, V]{}
	if slot.CompareAndSwap(nil, s) {
		return s
	}
	return slot.Load()
}

// findNode returns the node whose live key is equivalent to key. It
// takes no lock.
func (m *Map[K, V]) findNode(s *segment[K, V], key K, h uint32) *node[K, V] {
	if s == nil {
		return nil
	}
	tab := s.table.Load()
	if tab == nil {
		return nil
	}
	for p := tab.bucket(h).Load(); p != nil; p = p.next.Load() {
		if p.locator != h {
			continue
		}
		if k, ok := m.loadKey(p); ok && m.keyEq.Equal(k, key) {
			return p
		}
	}
	return nil
}

// lookup is the lock-free read path shared by Get and ContainsKey.
func (m *Map[K, V]) lookup(key K) (v V, ok bool) {
	h := m.hash(key)
	n := m.findNode(m.segments[segmentIndex(h)].Load(), key, h)
	if n == nil {
		return v, false
	}
	if v, ok = m.loadValue(n); !ok {
		m.tryRemoveIfReclaimed(h)
	}
	return v, ok
}

// Get returns the value mapped to key. It never blocks.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	m.checkKey("get", key)
	return m.lookup(key)
}

// ContainsKey reports whether key is mapped to a live value.
func (m *Map[K, V]) ContainsKey(key K) bool {
	m.checkKey("contains key", key)
	_, ok := m.lookup(key)
	return ok
}

// Put maps key to value and returns the previous value, if any.
func (m *Map[K, V]) Put(key K, value V) (old V, loaded bool) {
	m.checkKey("put", key)
	m.checkValue("put", value)
	return m.put(key, value, false)
}

// PutIfAbsent maps key to value unless key already has a live value, in
// which case that value is returned and loaded is true.
func (m *Map[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool) {
	m.checkKey("put if absent", key)
	m.checkValue("put if absent", value)
	return m.put(key, value, true)
}

// PutAll puts every pair of seq.
func (m *Map[K, V]) PutAll(seq iter.Seq2[K, V]) {
	for k, v := range seq {
		m.Put(k, v)
	}
}

func (m *Map[K, V]) put(key K, value V, onlyIfAbsent bool) (old V, loaded bool) {
	h := m.hash(key)
	s := m.segmentForAdd(h)
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := m.findNode(s, key, h); n != nil {
		old, loaded = m.loadValue(n)
		if !onlyIfAbsent || !loaded {
			m.setValue(n, value)
		}
		return old, loaded
	}
	tab := s.tableForAdd(m)
	b := tab.bucket(h)
	b.Store(m.newNode(h, key, value, b.Load()))
	s.incrementCount()
	return old, false
}

// ComputeIfAbsent returns the value mapped to key, computing it with fn
// when there is none. A first probe takes no lock; if it misses, the
// segment is locked, the probe repeated, and fn called with the lock
// held, so fn runs at most once per absent key at a time and must not
// touch this map.
//
// If fn returns an error, or panics, the map is left unchanged and the
// error or panic propagates. If fn returns a nil value, nothing is stored
// and the nil value is returned.
func (m *Map[K, V]) ComputeIfAbsent(key K, fn func(key K) (V, error)) (V, error) {
	m.checkKey("compute if absent", key)
	h := m.hash(key)
	if n := m.findNode(m.segments[segmentIndex(h)].Load(), key, h); n != nil {
		if v, ok := m.loadValue(n); ok {
			return v, nil
		}
	}

	s := m.segmentForAdd(h)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := m.findNode(s, key, h)
	if n != nil {
		if v, ok := m.loadValue(n); ok {
			return v, nil
		}
	}
	v, err := fn(key)
	if err != nil {
		var zero V
		return zero, err
	}
	if m.isNilValue(v) {
		if n != nil {
			m.noteSwept(h, s.sweep(m, h))
		}
		return v, nil
	}
	if n != nil {
		m.setValue(n, v)
		return v, nil
	}
	tab := s.tableForAdd(m)
	b := tab.bucket(h)
	b.Store(m.newNode(h, key, v, b.Load()))
	s.incrementCount()
	return v, nil
}

// ComputeOp tells Compute what to do with the value returned by the
// compute function.
type ComputeOp int

const (
	// CancelOp signals to Compute to not do anything as a result
	// of executing the lambda. If the entry was not present in
	// the map, nothing happens, and if it was present, the
	// returned value is ignored.
	CancelOp ComputeOp = iota
	// UpdateOp signals to Compute to update the entry to the
	// value returned by the lambda, creating it if necessary.
	// Returning a nil value with UpdateOp removes the entry.
	UpdateOp
	// DeleteOp signals to Compute to always delete the entry
	// from the map.
	DeleteOp
)

// Compute atomically recomputes the mapping of key. fn receives the
// current value, with loaded reporting whether there is one, and decides
// the outcome with the returned ComputeOp. The result is the value mapped
// after the call and whether one is.
//
// The segment stays locked while fn runs, so fn must be short and must
// not touch this map. If fn returns an error, or panics, the map is left
// unchanged.
func (m *Map[K, V]) Compute(
	key K,
	fn func(key K, old V, loaded bool) (V, ComputeOp, error),
) (actual V, ok bool, err error) {
	m.checkKey("compute", key)
	h := m.hash(key)
	s := m.segmentForAdd(h)
	s.mu.Lock()
	defer s.mu.Unlock()

	var b *atomic.Pointer[node[K, V]]
	var pred, n *node[K, V]
	if tab := s.table.Load(); tab != nil {
		b = tab.bucket(h)
		for p := b.Load(); p != nil; p = p.next.Load() {
			if p.locator == h {
				if k, live := m.loadKey(p); live && m.keyEq.Equal(k, key) {
					n = p
					break
				}
			}
			pred = p
		}
	}

	var old V
	var loaded bool
	if n != nil {
		old, loaded = m.loadValue(n)
	}
	v, op, err := fn(key, old, loaded)
	if err != nil {
		return actual, false, err
	}
	if op == UpdateOp && m.isNilValue(v) {
		op = DeleteOp
	}
	switch op {
	case UpdateOp:
		if n != nil {
			m.setValue(n, v)
		} else {
			b = s.tableForAdd(m).bucket(h)
			b.Store(m.newNode(h, key, v, b.Load()))
			s.incrementCount()
		}
		return v, true, nil
	case DeleteOp:
		if n != nil {
			s.unlink(b, pred, n)
			m.detachNode(n)
		}
		return actual, false, nil
	}
	return old, loaded, nil
}

// Remove deletes key and returns its value, if it had a live one.
func (m *Map[K, V]) Remove(key K) (old V, loaded bool) {
	m.checkKey("remove", key)
	n, old, loaded := m.remove(key, func(V, bool) bool { return true })
	if n == nil {
		return old, false
	}
	return old, loaded
}

// RemoveIf deletes key only if it is mapped to a value equivalent to
// expected.
func (m *Map[K, V]) RemoveIf(key K, expected V) bool {
	m.checkKey("remove if", key)
	m.checkValue("remove if", expected)
	n, _, _ := m.remove(key, func(v V, ok bool) bool {
		return ok && m.valEq.Equal(v, expected)
	})
	return n != nil
}

// remove unlinks the node for key if match accepts its value and returns
// the removed node.
func (m *Map[K, V]) remove(key K, match func(v V, ok bool) bool) (*node[K, V], V, bool) {
	var zero V
	h := m.hash(key)
	s := m.segments[segmentIndex(h)].Load()
	if s == nil {
		return nil, zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.table.Load()
	if tab == nil {
		return nil, zero, false
	}
	b := tab.bucket(h)
	var pred *node[K, V]
	for p := b.Load(); p != nil; p = p.next.Load() {
		if p.locator == h {
			if k, ok := m.loadKey(p); ok && m.keyEq.Equal(k, key) {
				v, ok := m.loadValue(p)
				if !match(v, ok) {
					return nil, zero, false
				}
				s.unlink(b, pred, p)
				m.detachNode(p)
				return p, v, ok
			}
		}
		pred = p
	}
	return nil, zero, false
}

// Replace maps key to value only if key is already present, returning
// the previous value.
func (m *Map[K, V]) Replace(key K, value V) (old V, ok bool) {
	m.checkKey("replace", key)
	m.checkValue("replace", value)
	h := m.hash(key)
	s := m.segments[segmentIndex(h)].Load()
	if s == nil {
		return old, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := m.findNode(s, key, h)
	if n == nil {
		return old, false
	}
	old, ok = m.loadValue(n)
	m.setValue(n, value)
	return old, ok
}

// CompareAndReplace maps key to value only if it is currently mapped to
// a value equivalent to expected.
func (m *Map[K, V]) CompareAndReplace(key K, expected, value V) bool {
	m.checkKey("compare and replace", key)
	m.checkValue("compare and replace", expected)
	m.checkValue("compare and replace", value)
	h := m.hash(key)
	s := m.segments[segmentIndex(h)].Load()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := m.findNode(s, key, h)
	if n == nil {
		return false
	}
	if v, ok := m.loadValue(n); !ok || !m.valEq.Equal(v, expected) {
		return false
	}
	m.setValue(n, value)
	return true
}

// ContainsValue reports whether any key is mapped to a value equivalent
// to value. It walks the whole map.
func (m *Map[K, V]) ContainsValue(value V) bool {
	m.checkValue("contains value", value)
	found := false
	m.Range(func(_ K, v V) bool {
		found = m.valEq.Equal(v, value)
		return !found
	})
	return found
}

// Size returns the number of entries, saturating at math.MaxInt. Entries
// whose referent was collected are counted until they are swept.
func (m *Map[K, V]) Size() int {
	var sum uint64
	for i := range m.segments {
		s := m.segments[i].Load()
		if s == nil || s.table.Load() == nil {
			continue
		}
		sum += uint64(max(s.count.Load(), 0))
		if sum >= math.MaxInt {
			return math.MaxInt
		}
	}
	return int(sum)
}

// IsEmpty reports whether Size is zero.
func (m *Map[K, V]) IsEmpty() bool {
	for i := range m.segments {
		if s := m.segments[i].Load(); s != nil && s.count.Load() > 0 && s.table.Load() != nil {
			return false
		}
	}
	return true
}

// Clear removes every entry, one segment at a time.
func (m *Map[K, V]) Clear() {
	for i := range m.segments {
		if s := m.segments[i].Load(); s != nil {
			s.clear()
		}
	}
}

// ReleaseSoft drops the strong pins of every soft key and value so that
// they become collectable, and returns the number of pins released.
func (m *Map[K, V]) ReleaseSoft() int {
	if m.keyStrength != Soft && m.valueStrength != Soft {
		return 0
	}
	released := 0
	for i := len(m.segments) - 1; i >= 0; i-- {
		s := m.segments[i].Load()
		if s == nil {
			continue
		}
		tab := s.table.Load()
		if tab == nil {
			continue
		}
		for j := range tab.buckets {
			for p := tab.buckets[j].Load(); p != nil; p = p.next.Load() {
				released += m.releaseNode(p)
			}
		}
	}
	return released
}

// Equal reports whether other holds the same keys, each mapped to a value
// equivalent, by this map's value equivalence, to the one here.
func (m *Map[K, V]) Equal(other *Map[K, V]) bool {
	if other == nil {
		return false
	}
	if m == other {
		return true
	}
	// Size counts unswept collected entries, so compare live contents
	// in both directions instead.
	equal := true
	m.Range(func(k K, v V) bool {
		ov, ok := other.Get(k)
		equal = ok && m.valEq.Equal(v, ov)
		return equal
	})
	if !equal {
		return false
	}
	other.Range(func(k K, _ V) bool {
		equal = m.ContainsKey(k)
		return equal
	})
	return equal
}

// HashCode returns the sum over all entries of the key hash xor the value
// hash.
func (m *Map[K, V]) HashCode() uint32 {
	var h uint32
	m.Range(func(k K, v V) bool {
		h += m.keyEq.Hash(k) ^ m.valEq.Hash(v)
		return true
	})
	return h
}

// String implement the formatting output interface fmt.Stringer
func (m *Map[K, V]) String() string {
	const limit = 1024
	var sb strings.Builder
	sb.WriteString("Map[")
	i := 0
	m.Range(func(k K, v V) bool {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%v:%v", k, v)
		i++
		return i < limit
	})
	sb.WriteByte(']')
	return sb.String()
}

// ToGoMap copies m into a built-in map.
func ToGoMap[K comparable, V any](m *Map[K, V]) map[K]V {
	a := make(map[K]V, m.Size())
	m.Range(func(k K, v V) bool {
		a[k] = v
		return true
	})
	return a
}
