package refmap

import (
	"strconv"
	"testing"
)

const benchmarkNumEntries = 1_000

func benchmarkKeys() []string {
	keys := make([]string, benchmarkNumEntries)
	for i := range keys {
		keys[i] = "key" + strconv.Itoa(i)
	}
	return keys
}

func BenchmarkMap_Get(b *testing.B) {
	keys := benchmarkKeys()
	m := NewMap[string, int](WithPresize(benchmarkNumEntries))
	for i, k := range keys {
		m.Put(k, i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Get(keys[i%benchmarkNumEntries])
			i++
		}
	})
}

func BenchmarkMap_PutGet(b *testing.B) {
	keys := benchmarkKeys()
	m := NewMap[string, int]()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			k := keys[i%benchmarkNumEntries]
			if i%10 == 0 {
				m.Put(k, i)
			} else {
				_, _ = m.Get(k)
			}
			i++
		}
	})
}

func BenchmarkMap_WeakValuesPut(b *testing.B) {
	m := NewMap[int, *payload](WithWeakValues())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Put(i%benchmarkNumEntries, newPayload(i))
	}
}

func BenchmarkMap_Range(b *testing.B) {
	m := NewIntKeyIntValueMap()
	for i := 0; i < benchmarkNumEntries; i++ {
		m.Put(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Range(func(int, int) bool { return true })
	}
}
