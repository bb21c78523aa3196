package refmap

import (
	"runtime"
	"slices"
	"strconv"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
)

func TestSet_Basic(t *testing.T) {
	s := NewSet[string]()
	if !s.IsEmpty() {
		t.Fatal("new set is not empty")
	}
	if !s.Add("a") {
		t.Fatal("first Add must report an insertion")
	}
	if s.Add("a") {
		t.Fatal("second Add must report a duplicate")
	}
	s.Add("b")
	if s.Len() != 2 || !s.Contains("a") || s.Contains("c") {
		t.Fatalf("unexpected set contents, len %d", s.Len())
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatal("Remove is wrong")
	}
	want := mapset.NewThreadUnsafeSet("b")
	if got := mapset.NewThreadUnsafeSet(slices.Collect(s.All())...); !want.Equal(got) {
		t.Fatalf("want %v, got %v", want, got)
	}
	s.Clear()
	if !s.IsEmpty() {
		t.Fatal("set is not empty after clear")
	}
}

func TestSet_InternReturnsFirst(t *testing.T) {
	s := NewSetWithEquivalence(Deref[string]())
	first, second := "shared", "shared"
	if got := s.Intern(&first); got != &first {
		t.Fatal("intern of a new element must return it")
	}
	if got := s.Intern(&second); got != &first {
		t.Fatal("intern must return the element already present")
	}
	if s.Len() != 1 {
		t.Fatalf("expected one element, got %d", s.Len())
	}
}

func TestSet_ConcurrentIntern(t *testing.T) {
	const goroutines = 16
	s := NewSetWithEquivalence(Deref[string]())
	results := make([]*string, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			v := "value"
			results[g] = s.Intern(&v)
		}(g)
	}
	wg.Wait()
	for _, r := range results {
		if r != results[0] {
			t.Fatal("concurrent interns returned different elements")
		}
	}
}

func TestSet_WeakElementsForgotten(t *testing.T) {
	s := NewSetWithEquivalence(Deref[payload](), WithWeakKeys())
	keep := newPayload(0)
	s.Add(keep)
	for i := 1; i < 64; i++ {
		s.Add(newPayload(i))
	}
	waitFor(t, "weak set elements to be swept", func() bool {
		return s.Len() == 1
	})
	if got := s.Intern(&payload{id: 0, name: "0"}); got != keep {
		t.Fatal("reachable element was not interned")
	}
	runtime.KeepAlive(keep)
}

func TestSet_HashCode(t *testing.T) {
	a := NewSet[string]()
	b := NewSet[string]()
	var want uint32
	eq := Equality[string]()
	for i := 0; i < 50; i++ {
		k := strconv.Itoa(i)
		a.Add(k)
		b.Add(strconv.Itoa(49 - i))
		want += eq.Hash(k)
	}
	if a.HashCode() != want || b.HashCode() != want {
		t.Fatalf("unexpected hash codes %d, %d, want %d", a.HashCode(), b.HashCode(), want)
	}
}

func TestSet_Iterator(t *testing.T) {
	s := NewSet[int]()
	for i := 0; i < 10; i++ {
		s.Add(i)
	}
	it := s.Iterator()
	for it.Next() {
		if it.Key() != it.Value() {
			t.Fatalf("set value %d differs from key %d", it.Value(), it.Key())
		}
		if it.Key() < 5 {
			_ = it.Remove()
		}
	}
	if s.Len() != 5 {
		t.Fatalf("expected 5 elements, got %d", s.Len())
	}
}
