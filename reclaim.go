package refmap

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/hashicorp/go-hclog"
)

// reclaimQueueSize bounds the process-wide reclamation queue. Notices
// that do not fit are dropped; the affected nodes are swept later by
// lookups and iterators.
const reclaimQueueSize = 4096

// reclaimable is a collection notice: something that knows which bucket
// of which map may now hold a dead node.
type reclaimable interface {
	reclaim()
}

// reclaimNotice points back at its map through a weak handle, so that a
// live referent never keeps an otherwise unreachable map alive.
type reclaimNotice[K, V any] struct {
	owner   weak.Pointer[Map[K, V]]
	locator uint32
}

func (n reclaimNotice[K, V]) reclaim() {
	if m := n.owner.Value(); m != nil {
		m.removeIfReclaimed(n.locator)
	}
}

// notice returns the collection notice for bucket h, or nil when s does
// not need one.
func (m *Map[K, V]) notice(s Strength, h uint32) reclaimable {
	if !s.isReference() {
		return nil
	}
	return reclaimNotice[K, V]{owner: m.self, locator: h}
}

var reclaimer struct {
	once    sync.Once
	queue   chan reclaimable
	dropped atomic.Uint64
	handled atomic.Uint64
}

type loggerHolder struct{ l hclog.Logger }

var packageLogger atomic.Value

// SetLogger sets the logger used by the background reclamation worker
// and the soft reference pressure monitor. Maps log through the logger
// passed with WithLogger.
func SetLogger(l hclog.Logger) {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	packageLogger.Store(loggerHolder{l})
}

func logger() hclog.Logger {
	if h, ok := packageLogger.Load().(loggerHolder); ok {
		return h.l
	}
	return hclog.NewNullLogger()
}

// startReclamation starts the reclamation worker on first use.
func startReclamation() {
	reclaimer.once.Do(func() {
		reclaimer.queue = make(chan reclaimable, reclaimQueueSize)
		go reclaimLoop(reclaimer.queue)
	})
}

// enqueueReclaim runs on the runtime cleanup goroutine and must never
// block it.
func enqueueReclaim(r reclaimable) {
	select {
	case reclaimer.queue <- r:
	default:
		if reclaimer.dropped.Add(1)&1023 == 1 {
			logger().Debug("reclamation queue full, dropping notices", "dropped", reclaimer.dropped.Load())
		}
	}
}

func reclaimLoop(queue <-chan reclaimable) {
	l := logger().Named("reclaim")
	l.Debug("reclamation worker started", "queue", cap(queue))
	for r := range queue {
		runReclaim(l, r)
	}
}

func runReclaim(l hclog.Logger, r reclaimable) {
	defer func() {
		if p := recover(); p != nil {
			l.Error("reclamation sweep panicked", "panic", p)
		}
	}()
	r.reclaim()
	reclaimer.handled.Add(1)
}

// ReclaimStats reports process-wide reclamation counters: notices
// handled by the worker and notices dropped because the queue was full.
func ReclaimStats() (handled, dropped uint64) {
	return reclaimer.handled.Load(), reclaimer.dropped.Load()
}

// removeIfReclaimed sweeps the bucket that h maps to, unlinking every
// node whose key or value has been collected.
func (m *Map[K, V]) removeIfReclaimed(h uint32) {
	s := m.segments[segmentIndex(h)].Load()
	if s == nil {
		return
	}
	s.mu.Lock()
	n := s.sweep(m, h)
	s.mu.Unlock()
	m.noteSwept(h, n)
}

// tryRemoveIfReclaimed is removeIfReclaimed for read paths: it gives up
// instead of waiting when the segment is busy.
func (m *Map[K, V]) tryRemoveIfReclaimed(h uint32) {
	s := m.segments[segmentIndex(h)].Load()
	if s == nil || !s.mu.TryLock() {
		return
	}
	n := s.sweep(m, h)
	s.mu.Unlock()
	m.noteSwept(h, n)
}

func (m *Map[K, V]) noteSwept(h uint32, n int) {
	if n == 0 {
		return
	}
	m.reclaimed.Add(uint64(n))
	m.logger.Trace("swept reclaimed entries", "segment", segmentIndex(h), "removed", n)
}
