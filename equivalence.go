package refmap

import (
	"bytes"
	"hash/maphash"
	"unsafe"

	"github.com/spaolacci/murmur3"
)

// Equivalence decides key or value identity for a Map. It must be
// reflexive, symmetric and transitive, and equal elements must hash to
// the same value.
type Equivalence[T any] interface {
	Hash(x T) uint32
	Equal(a, b T) bool
}

// processSeed is shared by every maphash based equivalence so that
// hashes stay stable for the lifetime of the process.
var processSeed = maphash.MakeSeed()

func fold64(h uint64) uint32 {
	return uint32(h ^ h>>32)
}

type equality[T comparable] struct{}

func (equality[T]) Hash(x T) uint32 {
	return fold64(maphash.Comparable(processSeed, x))
}

func (equality[T]) Equal(a, b T) bool { return a == b }

// Equality compares with == and hashes with hash/maphash.
func Equality[T comparable]() Equivalence[T] {
	return equality[T]{}
}

type identity[E any] struct{}

func (identity[E]) Hash(x *E) uint32 {
	return fold64(uint64(uintptr(unsafe.Pointer(x))))
}

func (identity[E]) Equal(a, b *E) bool { return a == b }

// Identity compares pointers by address. Two distinct objects are never
// equivalent, even when their contents are equal.
func Identity[E any]() Equivalence[*E] {
	return identity[E]{}
}

type deref[E comparable] struct{}

func (deref[E]) Hash(x *E) uint32 {
	if x == nil {
		return 0
	}
	return fold64(maphash.Comparable(processSeed, *x))
}

func (deref[E]) Equal(a, b *E) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b || *a == *b
}

// Deref compares pointers by the values they point to.
func Deref[E comparable]() Equivalence[*E] {
	return deref[E]{}
}

type byteSlices struct{}

func (byteSlices) Hash(x []byte) uint32   { return murmur3.Sum32(x) }
func (byteSlices) Equal(a, b []byte) bool { return bytes.Equal(a, b) }

// Bytes compares byte slices by content using murmur3 hashing.
func Bytes() Equivalence[[]byte] {
	return byteSlices{}
}

type ints struct{}

func (ints) Hash(x int) uint32 {
	u := uint64(x)
	return uint32(u ^ u>>32)
}

func (ints) Equal(a, b int) bool { return a == b }

// Int is an allocation free equivalence for int keys and values.
func Int() Equivalence[int] {
	return ints{}
}

type equivalenceFunc[T any] struct {
	hash  func(T) uint32
	equal func(a, b T) bool
}

func (e equivalenceFunc[T]) Hash(x T) uint32   { return e.hash(x) }
func (e equivalenceFunc[T]) Equal(a, b T) bool { return e.equal(a, b) }

// EquivalenceFunc builds an Equivalence from a pair of functions.
func EquivalenceFunc[T any](hash func(T) uint32, equal func(a, b T) bool) Equivalence[T] {
	return equivalenceFunc[T]{hash: hash, equal: equal}
}
