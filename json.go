package refmap

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"
)

var (
	jsonMarshal   func(v any) ([]byte, error)
	jsonUnmarshal func(data []byte, v any) error
)

// SetDefaultJSONMarshal sets the default JSON serialization and deserialization functions.
// If not set, github.com/sugawarayuuta/sonnet is used by default.
func SetDefaultJSONMarshal(marshal func(v any) ([]byte, error), unmarshal func(data []byte, v any) error) {
	jsonMarshal, jsonUnmarshal = marshal, unmarshal
}

func marshalJSON(v any) ([]byte, error) {
	if jsonMarshal != nil {
		return jsonMarshal(v)
	}
	return sonnet.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	if jsonUnmarshal != nil {
		return jsonUnmarshal(data, v)
	}
	return sonnet.Unmarshal(data, v)
}

// jsonPair keeps keys of any type, not just strings, in the JSON form.
type jsonPair[K, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// MarshalJSON encodes the map as an array of {"key":...,"value":...}
// objects in iteration order.
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	pairs := make([]jsonPair[K, V], 0, m.Size())
	m.Range(func(k K, v V) bool {
		pairs = append(pairs, jsonPair[K, V]{Key: k, Value: v})
		return true
	})
	return marshalJSON(pairs)
}

// UnmarshalJSON puts every pair of an array produced by MarshalJSON.
// Existing entries are kept unless overwritten.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	var pairs []jsonPair[K, V]
	if err := unmarshalJSON(data, &pairs); err != nil {
		return err
	}
	for i, p := range pairs {
		if m.keyNilable && pointerOf(p.Key) == nil {
			return fmt.Errorf("refmap: pair %d: %w", i, ErrNilKey)
		}
		if m.isNilValue(p.Value) {
			return fmt.Errorf("refmap: pair %d: %w", i, ErrNilValue)
		}
	}
	for _, p := range pairs {
		m.Put(p.Key, p.Value)
	}
	return nil
}

// MarshalJSON encodes the set as an array of its elements.
func (s *Set[K]) MarshalJSON() ([]byte, error) {
	elems := make([]K, 0, s.Len())
	for k := range s.All() {
		elems = append(elems, k)
	}
	return marshalJSON(elems)
}

// UnmarshalJSON adds every element of a JSON array.
func (s *Set[K]) UnmarshalJSON(data []byte) error {
	var elems []K
	if err := unmarshalJSON(data, &elems); err != nil {
		return err
	}
	for i, k := range elems {
		if s.m.keyNilable && pointerOf(k) == nil {
			return fmt.Errorf("refmap: element %d: %w", i, ErrNilKey)
		}
	}
	for _, k := range elems {
		s.Add(k)
	}
	return nil
}
