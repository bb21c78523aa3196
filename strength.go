package refmap

import (
	"fmt"
	"reflect"
	"strings"
	"unsafe"
)

// Strength selects how a map holds its keys or values.
type Strength int

const (
	// Strong references keep the referent reachable for as long as the
	// entry is in the map.
	Strong Strength = iota
	// Weak references do not keep the referent reachable. Once the
	// referent is collected the entry disappears from the map.
	Weak
	// Soft references behave like Strong ones until memory pressure is
	// reported (see Map.ReleaseSoft and WithSoftLimit); afterwards they
	// behave like Weak ones.
	Soft

	// selfValue is the value mode of a Set: the value is the key itself.
	selfValue
)

func (s Strength) String() string {
	switch s {
	case Strong:
		return "strong"
	case Weak:
		return "weak"
	case Soft:
		return "soft"
	case selfValue:
		return "self"
	}
	return fmt.Sprintf("Strength(%d)", int(s))
}

// ParseStrength parses "strong", "weak" or "soft", ignoring case.
func ParseStrength(s string) (Strength, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strong":
		return Strong, nil
	case "weak":
		return Weak, nil
	case "soft":
		return Soft, nil
	}
	return Strong, fmt.Errorf("refmap: unknown strength %q", s)
}

// isReference reports whether s holds its referent through a weak handle.
func (s Strength) isReference() bool {
	return s == Weak || s == Soft
}

// checkStrength panics with a *ConfigError if T cannot be held with s.
func checkStrength[T any](field string, s Strength) {
	switch s {
	case Strong, selfValue:
		return
	case Weak, Soft:
		// Zero-size objects all share one static address that the
		// collector cannot track.
		t := reflect.TypeFor[T]()
		if t.Kind() != reflect.Pointer || t.Elem().Size() == 0 {
			panic(&ConfigError{
				Field: field,
				Err:   fmt.Errorf("%w: %s on %v", ErrUnsupportedStrength, s, t),
			})
		}
	default:
		panic(&ConfigError{Field: field, Err: fmt.Errorf("unknown strength %d", int(s))})
	}
}

// nilable reports whether T has a nil value. Every nilable kind keeps
// its nil-ness in the first machine word: the pointer itself, the slice
// data pointer or the interface type word, so pointerOf detects it.
func nilable[T any]() bool {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Slice, reflect.Interface:
		return true
	}
	return false
}

// pointerOf returns the address held by a pointer-shaped value.
func pointerOf[T any](v T) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&v))
}

// fromPointer is the inverse of pointerOf.
func fromPointer[T any](p unsafe.Pointer) T {
	return *(*T)(unsafe.Pointer(&p))
}
