package refmap

import (
	"math"
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"
)

const (
	// segmentBits selects the number of segments: 1<<segmentBits.
	segmentBits  = 6
	numSegments  = 1 << segmentBits
	segmentMask  = numSegments - 1
	segmentShift = 32 - segmentBits

	minSegmentCapacity = 4
	maxSegmentCapacity = 1 << 26
)

// bucketTable is the bucket array of a segment. It is replaced, never
// resized in place, so a reader holding a table sees intact chains.
type bucketTable[K, V any] struct {
	buckets []atomic.Pointer[node[K, V]]
	mask    uint32
}

func newBucketTable[K, V any](n int) *bucketTable[K, V] {
	return &bucketTable[K, V]{
		buckets: make([]atomic.Pointer[node[K, V]], n),
		mask:    uint32(n - 1),
	}
}

func (t *bucketTable[K, V]) bucket(h uint32) *atomic.Pointer[node[K, V]] {
	return &t.buckets[h&t.mask]
}

// segment is one lock stripe of a Map. The table and count are only
// written with mu held; readers load them atomically.
type segment[K, V any] struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		mu      sync.Mutex
		table   unsafe.Pointer
		count   int64
		growths uint32
	}{})%CacheLineSize) % CacheLineSize]byte

	mu      sync.Mutex
	table   atomic.Pointer[bucketTable[K, V]]
	count   atomic.Int64
	growths atomic.Uint32
}

func segmentIndex(h uint32) int {
	return int(h >> segmentShift & segmentMask)
}

// spreadHash applies a Wang/Jenkins style mix to h so that both the
// segment bits and the bucket bits depend on every input bit.
func spreadHash(h uint32) uint32 {
	h += h<<15 ^ 0xffffcd7d
	h ^= h >> 10
	h += h << 3
	h ^= h >> 6
	h += (h << 2) + (h << 14)
	return h ^ h>>16
}

// initialSegmentCapacity returns the bucket count of a segment's first
// table for a map expected to hold sizeHint entries.
func initialSegmentCapacity(sizeHint int) int {
	if sizeHint <= 0 {
		return minSegmentCapacity
	}
	sizeHint = min(sizeHint, math.MaxInt/4)
	c := (1 + 4*sizeHint/3) >> segmentBits
	c = max(c, minSegmentCapacity)
	c = min(c, maxSegmentCapacity)
	return nextPowOf2(c)
}

// tableForAdd returns a table ready to receive one more node, creating or
// growing it as needed. Caller holds s.mu.
func (s *segment[K, V]) tableForAdd(m *Map[K, V]) *bucketTable[K, V] {
	tab := s.table.Load()
	if tab == nil {
		tab = newBucketTable[K, V](m.initialCapacity)
		s.table.Store(tab)
		return tab
	}
	n := len(tab.buckets)
	if n-n>>2 < int(s.count.Load()) {
		return s.resize(m, tab)
	}
	return tab
}

// resize doubles tab. The trailing run of every chain whose nodes all
// land in the same new bucket is reused as is; the nodes in front of it
// are cloned, dropping the ones already reclaimed. Caller holds s.mu.
func (s *segment[K, V]) resize(m *Map[K, V], tab *bucketTable[K, V]) *bucketTable[K, V] {
	oldCap := len(tab.buckets)
	if oldCap >= maxSegmentCapacity {
		return tab
	}
	nt := newBucketTable[K, V](oldCap << 1)
	for i := range tab.buckets {
		e := tab.buckets[i].Load()
		if e == nil {
			continue
		}
		next := e.next.Load()
		idx := e.locator & nt.mask
		if next == nil {
			nt.buckets[idx].Store(e)
			continue
		}

		lastRun, lastIdx := e, idx
		for last := next; last != nil; last = last.next.Load() {
			if k := last.locator & nt.mask; k != lastIdx {
				lastIdx, lastRun = k, last
			}
		}
		nt.buckets[lastIdx].Store(lastRun)

		for p := e; p != lastRun; p = p.next.Load() {
			b := nt.bucket(p.locator)
			clone := m.cloneNode(p, b.Load())
			if clone == nil {
				s.count.Add(-1)
				continue
			}
			b.Store(clone)
		}
	}
	s.table.Store(nt)
	s.growths.Add(1)
	m.logger.Trace("segment resized", "from", oldCap, "to", len(nt.buckets), "count", s.count.Load())
	return nt
}

func (s *segment[K, V]) incrementCount() {
	s.count.Add(1)
}

// decrementCount drops the table once the segment is empty. Caller
// holds s.mu.
func (s *segment[K, V]) decrementCount() {
	if s.count.Add(-1) <= 0 {
		s.count.Store(0)
		s.table.Store(nil)
	}
}

// unlink removes p, whose predecessor in bucket b is pred (nil for the
// head). Caller holds s.mu.
func (s *segment[K, V]) unlink(b *atomic.Pointer[node[K, V]], pred, p *node[K, V]) {
	next := p.next.Load()
	if pred == nil {
		b.Store(next)
	} else {
		pred.next.Store(next)
	}
	s.decrementCount()
}

// sweep unlinks every dead node in the bucket h maps to and reports how
// many were removed. Caller holds s.mu.
func (s *segment[K, V]) sweep(m *Map[K, V], h uint32) int {
	tab := s.table.Load()
	if tab == nil {
		return 0
	}
	b := tab.bucket(h)
	removed := 0
	var pred *node[K, V]
	for p := b.Load(); p != nil; p = p.next.Load() {
		if m.isLive(p) {
			pred = p
			continue
		}
		s.unlink(b, pred, p)
		m.detachNode(p)
		removed++
	}
	return removed
}

func (s *segment[K, V]) clear() {
	s.mu.Lock()
	s.table.Store(nil)
	s.count.Store(0)
	s.mu.Unlock()
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
// Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
