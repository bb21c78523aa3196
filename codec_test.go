package refmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMap_WriteToReadFrom(t *testing.T) {
	src := NewMap[int, string]()
	for i := 0; i < 500; i++ {
		src.Put(i, strconv.Itoa(i))
	}
	var buf bytes.Buffer
	written, err := src.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if written != int64(buf.Len()) {
		t.Fatalf("WriteTo reported %d bytes, wrote %d", written, buf.Len())
	}

	dst := NewMap[int, string]()
	read, err := dst.ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if read == 0 || read > written {
		t.Fatalf("ReadFrom consumed %d bytes of %d", read, written)
	}
	if diff := cmp.Diff(ToGoMap(src), ToGoMap(dst)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !src.Equal(dst) {
		t.Fatal("round trip maps are not equal")
	}
}

func TestMap_WriteToEmpty(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewMap[string, int]().WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	m := NewMap[string, int]()
	if _, err := m.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if !m.IsEmpty() {
		t.Fatalf("expected an empty map, got %d entries", m.Size())
	}
}

func TestMap_ReadFromTruncated(t *testing.T) {
	src := NewMap[string, string]()
	src.Put("key", "value")
	var buf bytes.Buffer
	if _, err := src.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]
	if _, err := NewMap[string, string]().ReadFrom(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected an error for a truncated stream")
	}
}

func TestMap_JSON(t *testing.T) {
	src := NewMap[int, string]()
	for i := 0; i < 20; i++ {
		src.Put(i, strconv.Itoa(i))
	}
	data, err := src.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	dst := NewMap[int, string]()
	if err := dst.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if diff := cmp.Diff(ToGoMap(src), ToGoMap(dst)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	single := NewMap[string, int]()
	single.Put("a", 1)
	data, err = single.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	want := []map[string]any{{"key": "a", "value": float64(1)}}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("unexpected JSON layout (-want +got):\n%s", diff)
	}
}

func TestMap_UnmarshalJSONRejectsNil(t *testing.T) {
	m := NewMap[string, *payload]()
	err := m.UnmarshalJSON([]byte(`[{"key":"a","value":null}]`))
	if !errors.Is(err, ErrNilValue) {
		t.Fatalf("expected ErrNilValue, got %v", err)
	}
	if !m.IsEmpty() {
		t.Fatal("map modified by rejected input")
	}
}

func TestSetDefaultJSONMarshal(t *testing.T) {
	var marshalled, unmarshalled int
	SetDefaultJSONMarshal(
		func(v any) ([]byte, error) {
			marshalled++
			return json.Marshal(v)
		},
		func(data []byte, v any) error {
			unmarshalled++
			return json.Unmarshal(data, v)
		},
	)
	defer SetDefaultJSONMarshal(nil, nil)

	s := NewSet[string]()
	s.Add("x")
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(data) != `["x"]` {
		t.Fatalf("unexpected JSON %s", data)
	}
	dst := NewSet[string]()
	if err := dst.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !dst.Contains("x") {
		t.Fatal("element lost in round trip")
	}
	if marshalled != 1 || unmarshalled != 1 {
		t.Fatalf("custom codec not used: %d/%d", marshalled, unmarshalled)
	}
}
