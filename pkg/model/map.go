package model

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// dateTag is the key of the tagged object that carries a Time on the wire
const dateTag = "$date"

// Map is an insertion ordered mapping of field name to Value
type Map struct {
	keys   []string
	values map[string]Value
}

// NewMap creates an empty Map
func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

// MapOf builds a Map from alternating key/value pairs. Values are converted
// with FromAny and panic on unsupported types, so use it for literals only.
func MapOf(kv ...any) *Map {
	m := NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("model.MapOf: key must be string")
		}
		val, err := FromAny(kv[i+1])
		if err != nil {
			panic("model.MapOf: " + err.Error())
		}
		m.Set(key, val)
	}
	return m
}

// Set stores v at key. Existing keys keep their position.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Null(), false
	}
	v, ok := m.values[key]
	return v, ok
}

func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Clone returns a deep copy
func (m *Map) Clone() *Map {
	out := NewMap()
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out.Set(k, cloneValue(m.values[k]))
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.kind {
	case KindMap:
		return MapValue(v.m.Clone())
	case KindArray:
		out := make([]Value, len(v.a))
		for i, e := range v.a {
			out[i] = cloneValue(e)
		}
		return Array(out...)
	default:
		return v
	}
}

// Equal compares two maps ignoring key order
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, k := range m.Keys() {
		a, _ := m.Get(k)
		b, ok := other.Get(k)
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}

// Lookup resolves a dotted path such as "meta.author" through nested maps
func (m *Map) Lookup(path string) (Value, bool) {
	if v, ok := m.Get(path); ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return Null(), false
	}

	cur := m
	for i, part := range parts {
		v, ok := cur.Get(part)
		if !ok {
			return Null(), false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if v.Kind() != KindMap {
			return Null(), false
		}
		cur = v.AsMap()
	}
	return Null(), false
}

// Merge overwrites the top-level fields of m with those of src. It reports
// whether any stored value changed.
func (m *Map) Merge(src *Map) bool {
	changed := false
	for _, k := range src.Keys() {
		v, _ := src.Get(k)
		if cur, ok := m.Get(k); ok && cur.Equal(v) {
			continue
		}
		m.Set(k, cloneValue(v))
		changed = true
	}
	return changed
}

func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Map) writeJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return goerr.Wrap(err, "failed to encode key", goerr.V("key", k))
		}
		buf.Write(key)
		buf.WriteByte(':')
		v, _ := m.Get(k)
		if err := v.writeJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, 0)
	if err != nil {
		return err
	}
	if v.Kind() != KindMap {
		return goerr.Wrap(ErrInvalidRequest, "document must be a JSON object", goerr.V("kind", v.Kind()))
	}
	if _, err := dec.Token(); err != io.EOF {
		return goerr.Wrap(ErrInvalidRequest, "unexpected data after JSON object")
	}

	decoded := v.AsMap()
	m.keys = decoded.keys
	m.values = decoded.values
	return nil
}

// DecodeMap reads a single JSON object from r
func DecodeMap(r io.Reader) (*Map, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read JSON object")
	}
	m := NewMap()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindMap:
		return v.m.writeJSON(buf)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.a {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindTime:
		s, err := json.Marshal(v.t.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return goerr.Wrap(err, "failed to encode time")
		}
		buf.WriteString(`{"` + dateTag + `":`)
		buf.Write(s)
		buf.WriteByte('}')
	default:
		raw, err := json.Marshal(v.Any())
		if err != nil {
			return goerr.Wrap(err, "failed to encode value", goerr.V("kind", v.kind))
		}
		buf.Write(raw)
	}
	return nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	decoded, err := decodeValue(dec, 0)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// MaxDepth is the deepest nesting of objects and arrays accepted when
// decoding JSON
const MaxDepth = 1000

// decodeValue reads one JSON value from a token stream, keeping object keys
// in wire order and converting {"$date": "..."} into a Time.
func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), goerr.Wrap(ErrInvalidRequest, "malformed JSON", goerr.V("error", err.Error()))
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), goerr.Wrap(ErrInvalidRequest, "malformed number", goerr.V("number", t.String()))
		}
		return Number(f), nil
	case json.Delim:
		if depth >= MaxDepth {
			return Null(), goerr.Wrap(ErrInvalidRequest, "JSON nesting too deep", goerr.V("max_depth", MaxDepth))
		}
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null(), goerr.Wrap(ErrInvalidRequest, "malformed JSON object", goerr.V("error", err.Error()))
				}
				key, ok := keyTok.(string)
				if !ok {
					return Null(), goerr.Wrap(ErrInvalidRequest, "object key must be string")
				}
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return Null(), err
				}
				m.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), goerr.Wrap(ErrInvalidRequest, "unterminated JSON object")
			}
			if tv, ok := taggedTime(m); ok {
				return tv, nil
			}
			return MapValue(m), nil

		case '[':
			var out []Value
			for dec.More() {
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return Null(), err
				}
				out = append(out, val)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), goerr.Wrap(ErrInvalidRequest, "unterminated JSON array")
			}
			if out == nil {
				out = []Value{}
			}
			return Array(out...), nil
		}
	}

	return Null(), goerr.Wrap(ErrInvalidRequest, "unexpected JSON token", goerr.V("token", tok))
}

func taggedTime(m *Map) (Value, bool) {
	if m.Len() != 1 {
		return Null(), false
	}
	v, ok := m.Get(dateTag)
	if !ok || v.Kind() != KindString {
		return Null(), false
	}
	t, err := time.Parse(time.RFC3339Nano, v.AsString())
	if err != nil {
		return Null(), false
	}
	return Time(t), true
}
