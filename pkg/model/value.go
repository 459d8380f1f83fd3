package model

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Kind is the type tag of a Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindTime
	KindMap
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Value is a schema-free document value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	t    time.Time
	m    *Map
	a    []Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }
func Array(vs ...Value) Value { return Value{kind: KindArray, a: vs} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) AsBool() bool { return v.b }
func (v Value) AsNumber() float64 { return v.n }
func (v Value) AsString() string { return v.s }
func (v Value) AsTime() time.Time { return v.t }
func (v Value) AsArray() []Value { return v.a }

// MapValue wraps m as a Value. A nil map becomes an empty map.
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// AsMap returns the nested map, or nil when v is not a map
func (v Value) AsMap() *Map {
	return v.m
}

// Equal reports deep equality. Map equality ignores key order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindTime:
		return v.t.Equal(other.t)
	case KindArray:
		if len(v.a) != len(other.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(other.a[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(other.m)
	}
	return false
}

// Compare orders two values of the same comparable kind. The second return
// value is false when the values cannot be ordered against each other.
func (v Value) Compare(other Value) (int, bool) {
	if v.kind != other.kind {
		return 0, false
	}

	switch v.kind {
	case KindNumber:
		switch {
		case v.n < other.n:
			return -1, true
		case v.n > other.n:
			return 1, true
		default:
			return 0, true
		}
	case KindString:
		return strings.Compare(v.s, other.s), true
	case KindTime:
		return v.t.Compare(other.t), true
	case KindBool:
		switch {
		case v.b == other.b:
			return 0, true
		case !v.b:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// Any converts v into plain Go values: nil, bool, float64, string,
// time.Time, map[string]any and []any.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindMap:
		out := make(map[string]any, v.m.Len())
		for _, k := range v.m.Keys() {
			val, _ := v.m.Get(k)
			out[k] = val.Any()
		}
		return out
	case KindArray:
		out := make([]any, len(v.a))
		for i, e := range v.a {
			out[i] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// HashKey returns a string that is identical for values reported Equal. It
// is meant for bucketing; distinct values may still share a key.
func (v Value) HashKey() string {
	var b strings.Builder
	v.writeHashKey(&b)
	return b.String()
}

func (v Value) writeHashKey(b *strings.Builder) {
	b.WriteByte(byte('0' + v.kind))
	switch v.kind {
	case KindBool:
		b.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		n := v.n
		if n == 0 {
			n = 0 // -0 == 0
		}
		b.WriteString(strconv.FormatFloat(n, 'g', -1, 64))
	case KindString:
		b.WriteString(strconv.Quote(v.s))
	case KindTime:
		b.WriteString(strconv.FormatInt(v.t.UnixNano(), 10))
	case KindArray:
		b.WriteByte('[')
		for _, e := range v.a {
			e.writeHashKey(b)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case KindMap:
		keys := v.m.Keys()
		sort.Strings(keys)
		b.WriteByte('{')
		for _, k := range keys {
			e, _ := v.m.Get(k)
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			e.writeHashKey(b)
			b.WriteByte(',')
		}
		b.WriteByte('}')
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprint(v.b)
	case KindNumber:
		return fmt.Sprint(v.n)
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		data, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(data)
	}
}

// FromAny converts plain Go values into a Value. Maps with unordered keys
// (map[string]any) are converted with sorted keys so results are stable.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Map:
		return MapValue(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Null(), goerr.New("non-finite number is not supported", goerr.V("value", t))
		}
		return Number(t), nil
	case string:
		return String(t), nil
	case []byte:
		return String(base64.StdEncoding.EncodeToString(t)), nil
	case time.Time:
		return Time(t), nil
	case *time.Time:
		if t == nil {
			return Null(), nil
		}
		return Time(*t), nil
	case ID:
		return String(t.String()), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		m := NewMap()
		for _, k := range keys {
			val, err := FromAny(t[k])
			if err != nil {
				return Null(), goerr.Wrap(err, "failed to convert map entry", goerr.V("key", k))
			}
			m.Set(k, val)
		}
		return MapValue(m), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			val, err := FromAny(e)
			if err != nil {
				return Null(), goerr.Wrap(err, "failed to convert array element", goerr.V("index", i))
			}
			out[i] = val
		}
		return Array(out...), nil
	case []Value:
		return Array(t...), nil
	case []string:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = String(e)
		}
		return Array(out...), nil
	case fmt.Stringer:
		return String(t.String()), nil
	default:
		return Null(), goerr.New("unsupported value type", goerr.V("type", fmt.Sprintf("%T", x)))
	}
}
