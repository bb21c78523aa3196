package refmap

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"weak"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// softReleaser is a map registered with the pressure monitor.
type softReleaser interface {
	// releaseAbove drops soft pins if heap exceeds the map's limit. It
	// reports false once the map itself has been collected.
	releaseAbove(heap uint64) bool
}

type softHandle[K, V any] struct {
	owner weak.Pointer[Map[K, V]]
}

func (h softHandle[K, V]) releaseAbove(heap uint64) bool {
	m := h.owner.Value()
	if m == nil {
		return false
	}
	if heap > m.softLimit {
		if n := m.ReleaseSoft(); n > 0 {
			m.logger.Debug("released soft references under memory pressure",
				"heap", heap, "limit", m.softLimit, "released", n)
		}
	}
	return true
}

var pressure struct {
	once   sync.Once
	mu     sync.Mutex
	maps   []softReleaser
	signal chan struct{}
}

// registerSoftMap adds r to the set of maps checked after every GC cycle.
func registerSoftMap(r softReleaser) {
	pressure.once.Do(func() {
		pressure.signal = make(chan struct{}, 1)
		go pressureLoop(pressure.signal)
		armGCSentinel()
	})
	pressure.mu.Lock()
	pressure.maps = append(pressure.maps, r)
	pressure.mu.Unlock()
}

// gcSentinel is an unreachable object whose cleanup marks the end of a GC
// cycle. The pointer field keeps it out of the tiny allocator.
type gcSentinel struct {
	_ *byte
	_ [2]uintptr
}

func armGCSentinel() {
	runtime.AddCleanup(new(gcSentinel), onGCCycle, 0)
}

func onGCCycle(int) {
	select {
	case pressure.signal <- struct{}{}:
	default:
	}
	armGCSentinel()
}

func pressureLoop(signal <-chan struct{}) {
	l := logger().Named("pressure")
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	for range signal {
		metrics.Read(sample)
		if sample[0].Value.Kind() != metrics.KindUint64 {
			l.Warn("heap metric unavailable, soft limit disabled", "metric", heapObjectsMetric)
			return
		}
		heap := sample[0].Value.Uint64()

		pressure.mu.Lock()
		live := pressure.maps[:0]
		for _, r := range pressure.maps {
			if r.releaseAbove(heap) {
				live = append(live, r)
			}
		}
		clear(pressure.maps[len(live):])
		pressure.maps = live
		pressure.mu.Unlock()
	}
}
