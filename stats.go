package refmap

import (
	"fmt"
	"strings"
)

// MapStats is Map statistics.
//
// Warning: map statistics are intented to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// Segments is the number of segments allocated so far.
	Segments int
	// TotalBuckets is the total number of buckets over all segment
	// tables.
	TotalBuckets int
	// EmptyBuckets is the number of buckets that hold no nodes.
	EmptyBuckets int
	// Size is the exact number of live entries found by walking the
	// map.
	Size int
	// Counter is the number of entries according to the segment
	// counters. It includes collected entries not yet swept, so it may
	// exceed Size.
	Counter int
	// MinEntries is the minimum number of nodes in a non-empty bucket
	// chain.
	MinEntries int
	// MaxEntries is the maximum number of nodes in a bucket chain.
	MaxEntries int
	// TotalGrowths is the number of times a segment table grew.
	TotalGrowths uint32
	// Reclaimed is the number of collected entries swept from this map.
	Reclaimed uint64
	// ReclaimDropped is the process-wide number of collection notices
	// dropped because the reclamation queue was full.
	ReclaimDropped uint64
	// KeyStrength and ValueStrength are the configured strengths.
	KeyStrength   Strength
	ValueStrength Strength
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Segments:       %d\n", s.Segments))
	sb.WriteString(fmt.Sprintf("TotalBuckets:   %d\n", s.TotalBuckets))
	sb.WriteString(fmt.Sprintf("EmptyBuckets:   %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("Size:           %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:        %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("MinEntries:     %d\n", s.MinEntries))
	sb.WriteString(fmt.Sprintf("MaxEntries:     %d\n", s.MaxEntries))
	sb.WriteString(fmt.Sprintf("TotalGrowths:   %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("Reclaimed:      %d\n", s.Reclaimed))
	sb.WriteString(fmt.Sprintf("ReclaimDropped: %d\n", s.ReclaimDropped))
	sb.WriteString(fmt.Sprintf("KeyStrength:    %s\n", s.KeyStrength))
	sb.WriteString(fmt.Sprintf("ValueStrength:  %s\n", s.ValueStrength))
	sb.WriteString("}\n")
	return sb.String()
}

// Stats returns statistics for the Map. Just like other map
// methods, this one is thread-safe. Yet it's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (m *Map[K, V]) Stats() *MapStats {
	stats := &MapStats{
		MinEntries:    -1,
		Reclaimed:     m.reclaimed.Load(),
		KeyStrength:   m.keyStrength,
		ValueStrength: m.valueStrength,
	}
	_, stats.ReclaimDropped = ReclaimStats()
	for i := range m.segments {
		s := m.segments[i].Load()
		if s == nil {
			continue
		}
		stats.Segments++
		stats.TotalGrowths += s.growths.Load()
		tab := s.table.Load()
		if tab == nil {
			continue
		}
		stats.Counter += int(s.count.Load())
		stats.TotalBuckets += len(tab.buckets)
		for j := range tab.buckets {
			nodes := 0
			for p := tab.buckets[j].Load(); p != nil; p = p.next.Load() {
				nodes++
				if m.isLive(p) {
					stats.Size++
				}
			}
			if nodes == 0 {
				stats.EmptyBuckets++
				continue
			}
			if stats.MinEntries < 0 || nodes < stats.MinEntries {
				stats.MinEntries = nodes
			}
			stats.MaxEntries = max(stats.MaxEntries, nodes)
		}
	}
	if stats.MinEntries < 0 {
		stats.MinEntries = 0
	}
	return stats
}
