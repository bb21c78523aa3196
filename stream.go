package refmap

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// streamPair is one record of the pair stream. A record with both fields
// nil terminates the stream.
type streamPair[K, V any] struct {
	Key   *K `codec:"k"`
	Value *V `codec:"v"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes every entry to w as a msgpack {k, v} record, in
// iteration order, followed by a terminating record with both fields
// nil. Entries added or removed during the call may or may not be
// written.
func (m *Map[K, V]) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	enc := codec.NewEncoder(cw, &codec.MsgpackHandle{})
	var err error
	m.Range(func(k K, v V) bool {
		if err = enc.Encode(streamPair[K, V]{Key: &k, Value: &v}); err != nil {
			err = fmt.Errorf("refmap: encode pair: %w", err)
			return false
		}
		return true
	})
	if err != nil {
		return cw.n, err
	}
	if err := enc.Encode(streamPair[K, V]{}); err != nil {
		return cw.n, fmt.Errorf("refmap: encode terminator: %w", err)
	}
	return cw.n, nil
}

// ReadFrom reads records written by WriteTo up to and including the
// terminating record, putting each pair into m. Records read before a
// failure stay in the map.
func (m *Map[K, V]) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	dec := codec.NewDecoder(cr, &codec.MsgpackHandle{})
	for {
		var p streamPair[K, V]
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return cr.n, fmt.Errorf("refmap: decode pair: %w", err)
		}
		if p.Key == nil && p.Value == nil {
			return cr.n, nil
		}
		if p.Key == nil || p.Value == nil ||
			(m.keyNilable && pointerOf(*p.Key) == nil) || m.isNilValue(*p.Value) {
			return cr.n, ErrCorruptStream
		}
		m.Put(*p.Key, *p.Value)
	}
}
