package refmap

import (
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
)

func TestMap_Range(t *testing.T) {
	const numEntries = 1000
	m := NewMap[string, int]()
	for i := 0; i < numEntries; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	iters := 0
	met := make(map[string]int)
	m.Range(func(key string, value int) bool {
		if key != strconv.Itoa(value) {
			t.Fatalf("got unexpected key/value for iteration %d: %v/%v", iters, key, value)
			return false
		}
		met[key] += 1
		iters++
		return true
	})
	if iters != numEntries {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
	for i := 0; i < numEntries; i++ {
		if c := met[strconv.Itoa(i)]; c != 1 {
			t.Fatalf("range did not iterate correctly over %d: %d", i, c)
		}
	}
}

func TestMap_Range_FalseReturned(t *testing.T) {
	m := NewMap[string, int]()
	for i := 0; i < 100; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	iters := 0
	m.Range(func(key string, value int) bool {
		iters++
		return iters != 13
	})
	if iters != 13 {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
}

func TestMap_Range_NestedDelete(t *testing.T) {
	const numEntries = 256
	m := NewMap[string, int]()
	for i := 0; i < numEntries; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	m.Range(func(key string, value int) bool {
		m.Remove(key)
		return true
	})
	for i := 0; i < numEntries; i++ {
		if _, ok := m.Get(strconv.Itoa(i)); ok {
			t.Fatalf("value found for %d", i)
		}
	}
}

func TestMap_IterationOrder(t *testing.T) {
	m := NewIntKeyIntValueMap()
	for i := 0; i < 5000; i++ {
		m.Put(i, i)
	}
	type position struct{ segment, bucket int }
	var got []position
	it := m.EntrySet().Iterator()
	for it.Next() {
		h := m.hash(it.Key())
		seg := segmentIndex(h)
		tab := m.segments[seg].Load().table.Load()
		got = append(got, position{seg, int(h & tab.mask)})
	}
	if len(got) != 5000 {
		t.Fatalf("iterator returned %d entries", len(got))
	}
	descending := slices.IsSortedFunc(got, func(a, b position) int {
		if a.segment != b.segment {
			return b.segment - a.segment
		}
		return b.bucket - a.bucket
	})
	if !descending {
		t.Fatal("iteration is not in descending segment and bucket order")
	}

	var ranged []int
	m.Range(func(k, _ int) bool {
		ranged = append(ranged, k)
		return true
	})
	var iterated []int
	for it := m.KeySet().Iterator(); it.Next(); {
		iterated = append(iterated, it.Key())
	}
	if diff := cmp.Diff(iterated, ranged); diff != "" {
		t.Fatalf("Range and Iterator disagree (-iterator +range):\n%s", diff)
	}
}

func TestIterator_Remove(t *testing.T) {
	m := NewIntKeyIntValueMap()
	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	it := m.KeySet().Iterator()
	if err := it.Remove(); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState before Next, got %v", err)
	}
	for it.Next() {
		if it.Key()%2 == 0 {
			if err := it.Remove(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := it.Remove(); !errors.Is(err, ErrIllegalState) {
				t.Fatalf("expected ErrIllegalState on second remove, got %v", err)
			}
		}
	}
	if m.Size() != 50 {
		t.Fatalf("expected 50 entries, got %d", m.Size())
	}
	for k := range m.Keys() {
		if k%2 == 0 {
			t.Fatalf("even key %d survived", k)
		}
	}
}

func TestEntry_SetValueWritesThrough(t *testing.T) {
	m := NewMap[string, int]()
	m.Put("a", 1)
	it := m.EntrySet().Iterator()
	if !it.Next() {
		t.Fatal("expected an entry")
	}
	e := it.Entry()
	if old := e.SetValue(2); old != 1 {
		t.Fatalf("expected old value 1, got %d", old)
	}
	if e.Value() != 2 || e.Key() != "a" {
		t.Fatalf("unexpected entry %s", e)
	}
	if v, _ := m.Get("a"); v != 2 {
		t.Fatalf("entry update did not reach the map: %d", v)
	}
	for e := range m.EntrySet().All() {
		e.SetValue(3)
	}
	if v, _ := m.Get("a"); v != 3 {
		t.Fatalf("entry update did not reach the map: %d", v)
	}
}

func TestViews(t *testing.T) {
	m := NewMap[string, int]()
	if m.KeySet() != m.KeySet() || m.Values() != m.Values() || m.EntrySet() != m.EntrySet() {
		t.Fatal("views must be singletons")
	}
	for i := 0; i < 10; i++ {
		m.Put(strconv.Itoa(i), i%5)
	}

	keys := m.KeySet()
	if keys.Len() != 10 || keys.IsEmpty() {
		t.Fatalf("unexpected key view size %d", keys.Len())
	}
	want := mapset.NewSet(lo.Map(lo.Range(10), func(i, _ int) string { return strconv.Itoa(i) })...)
	got := mapset.NewSet[string]()
	for k := range keys.All() {
		got.Add(k)
	}
	if !want.Equal(got) {
		t.Fatalf("key view mismatch: want %v, got %v", want, got)
	}
	if !keys.Contains("3") || keys.Contains("x") {
		t.Fatal("key view Contains is wrong")
	}
	if !keys.Remove("3") || keys.Remove("3") {
		t.Fatal("key view Remove is wrong")
	}

	values := m.Values()
	if !values.Contains(4) || values.Contains(5) {
		t.Fatal("value view Contains is wrong")
	}
	if !values.Remove(4) {
		t.Fatal("value view did not remove an existing value")
	}
	if values.Len() != 8 {
		t.Fatalf("expected 8 entries, got %d", values.Len())
	}
	if sum := lo.Sum(slices.Collect(values.All())); sum != 13 {
		t.Fatalf("unexpected value sum %d", sum)
	}

	entries := m.EntrySet()
	if !entries.Contains("0", 0) || entries.Contains("0", 1) {
		t.Fatal("entry view Contains is wrong")
	}
	if entries.Remove("0", 1) || !entries.Remove("0", 0) {
		t.Fatal("entry view Remove is wrong")
	}
	if entries.Len() != 7 {
		t.Fatalf("expected 7 entries, got %d", entries.Len())
	}
	entries.Clear()
	if !keys.IsEmpty() || !values.IsEmpty() || !entries.IsEmpty() {
		t.Fatal("views are not empty after clear")
	}
}

func TestValuesView_RemoveRechecksValue(t *testing.T) {
	var m *Map[string, int]
	replaced := false
	valEq := EquivalenceFunc(
		func(v int) uint32 { return uint32(v) },
		func(a, b int) bool {
			if !replaced {
				// Another writer replaces the value right after the
				// view matched it.
				replaced = true
				m.Replace("a", 6)
			}
			return a == b
		},
	)
	m = NewMapWithEquivalence(Equality[string](), valEq)
	m.Put("a", 5)

	if m.Values().Remove(5) {
		t.Fatal("removed a mapping whose value had been replaced")
	}
	if v, ok := m.Get("a"); !ok || v != 6 {
		t.Fatalf("expected a=6 to survive, got %d, %v", v, ok)
	}
}

func TestIterator_WeaklyConsistent(t *testing.T) {
	const (
		stable = 1000
		extra  = 20000
	)
	m := NewIntKeyIntValueMap()
	for i := 0; i < stable; i++ {
		m.Put(i, i)
	}

	var wg sync.WaitGroup
	var done atomic.Bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := stable; i < stable+extra && !done.Load(); i++ {
			m.Put(i, i)
			if i%3 == 0 {
				m.Remove(i - 1)
			}
		}
	}()

	var seen []int
	for it := m.KeySet().Iterator(); it.Next(); {
		seen = append(seen, it.Key())
	}
	done.Store(true)
	wg.Wait()

	set := mapset.NewThreadUnsafeSet(seen...)
	if set.Cardinality() != len(seen) {
		t.Fatalf("iterator returned duplicates: %d unique of %d", set.Cardinality(), len(seen))
	}
	for i := 0; i < stable; i++ {
		if !set.Contains(i) {
			t.Fatalf("iterator missed stable key %d", i)
		}
	}
}

func TestMap_ForEachConcurrentWithWriters(t *testing.T) {
	const numEntries = 5000
	m := NewIntKeyIntValueMap()
	for i := 0; i < numEntries; i++ {
		m.Put(i, 1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := numEntries; i < 2*numEntries; i++ {
			m.Put(i, 0)
		}
	}()

	var sum atomic.Int64
	seen := mapset.NewSet[int]()
	m.ForEach(4, func(k, v int) {
		sum.Add(int64(v))
		seen.Add(k)
	})
	wg.Wait()

	if sum.Load() != numEntries {
		t.Fatalf("expected sum %d, got %d", numEntries, sum.Load())
	}
	for i := 0; i < numEntries; i++ {
		if !seen.Contains(i) {
			t.Fatalf("ForEach missed key %d", i)
		}
	}
}
