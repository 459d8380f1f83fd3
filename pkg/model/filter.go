package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Filter is a structured predicate over document fields. The set of
// implementations is closed: All, Compare, In, Exists, And and Or.
type Filter interface {
	// Match evaluates the predicate against doc
	Match(doc *Document) bool

	isFilter()
}

// Op is a comparison operator
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
)

// All matches every document
type All struct{}

// Compare matches when the field value satisfies Op against Value
type Compare struct {
	Field string
	Op    Op
	Value Value
}

// In matches when the field equals any of Values
type In struct {
	Field  string
	Values []Value
}

// Exists matches on presence (Want=true) or absence (Want=false) of a field
type Exists struct {
	Field string
	Want  bool
}

// And matches when every sub filter matches
type And struct {
	Filters []Filter
}

// Or matches when at least one sub filter matches
type Or struct {
	Filters []Filter
}

func (All) isFilter()     {}
func (Compare) isFilter() {}
func (In) isFilter()      {}
func (Exists) isFilter()  {}
func (And) isFilter()     {}
func (Or) isFilter()      {}

// Eq is a shorthand for an equality Compare
func Eq(field string, v Value) Compare {
	return Compare{Field: field, Op: OpEq, Value: v}
}

func (All) Match(*Document) bool { return true }

func (f Compare) Match(doc *Document) bool {
	v, ok := doc.Lookup(f.Field)

	switch f.Op {
	case OpEq:
		return equalsField(v, ok, f.Value)
	case OpNe:
		return !equalsField(v, ok, f.Value)
	}

	if !ok {
		return false
	}
	if v.Kind() == KindArray && f.Value.Kind() != KindArray {
		for _, e := range v.AsArray() {
			if compareOp(e, f.Op, f.Value) {
				return true
			}
		}
		return false
	}
	return compareOp(v, f.Op, f.Value)
}

func (f In) Match(doc *Document) bool {
	v, ok := doc.Lookup(f.Field)
	for _, candidate := range f.Values {
		if equalsField(v, ok, candidate) {
			return true
		}
	}
	return false
}

func (f Exists) Match(doc *Document) bool {
	_, ok := doc.Lookup(f.Field)
	return ok == f.Want
}

func (f And) Match(doc *Document) bool {
	for _, sub := range f.Filters {
		if !sub.Match(doc) {
			return false
		}
	}
	return true
}

func (f Or) Match(doc *Document) bool {
	for _, sub := range f.Filters {
		if sub.Match(doc) {
			return true
		}
	}
	return false
}

// equalsField applies document store equality: a missing field equals null
// and an array field matches when any element equals the operand.
func equalsField(v Value, present bool, operand Value) bool {
	if !present {
		return operand.IsNull()
	}
	if v.Equal(operand) {
		return true
	}
	if v.Kind() == KindArray && operand.Kind() != KindArray {
		for _, e := range v.AsArray() {
			if e.Equal(operand) {
				return true
			}
		}
	}
	return false
}

func compareOp(v Value, op Op, operand Value) bool {
	c, ok := v.Compare(operand)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// ParseFilter decodes a JSON filter expression such as
// {"status": "active", "age": {"$gte": 18}} or {"$or": [{...}, {...}]}.
// Malformed expressions fail with ErrInvalidQuery.
func ParseFilter(data []byte) (Filter, error) {
	m := NewMap()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, goerr.Wrap(ErrInvalidQuery, "filter must be a JSON object", goerr.V("error", err.Error()))
	}
	return parseFilterMap(m)
}

func parseFilterMap(m *Map) (Filter, error) {
	if m.Len() == 0 {
		return All{}, nil
	}

	var filters []Filter
	for _, key := range m.Keys() {
		v, _ := m.Get(key)

		if strings.HasPrefix(key, "$") {
			f, err := parseLogical(key, v)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
			continue
		}

		if key == "" {
			return nil, goerr.Wrap(ErrInvalidQuery, "empty field name")
		}

		fieldFilters, err := parseField(key, v)
		if err != nil {
			return nil, err
		}
		filters = append(filters, fieldFilters...)
	}

	if len(filters) == 1 {
		return filters[0], nil
	}
	return And{Filters: filters}, nil
}

func parseLogical(op string, v Value) (Filter, error) {
	if op != "$and" && op != "$or" {
		return nil, goerr.Wrap(ErrInvalidQuery, "unknown top-level operator", goerr.V("operator", op))
	}
	if v.Kind() != KindArray || len(v.AsArray()) == 0 {
		return nil, goerr.Wrap(ErrInvalidQuery, "logical operator requires a non-empty array", goerr.V("operator", op))
	}

	subs := make([]Filter, 0, len(v.AsArray()))
	for i, e := range v.AsArray() {
		if e.Kind() != KindMap {
			return nil, goerr.Wrap(ErrInvalidQuery, "logical operand must be an object",
				goerr.V("operator", op), goerr.V("index", i))
		}
		sub, err := parseFilterMap(e.AsMap())
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	if op == "$and" {
		return And{Filters: subs}, nil
	}
	return Or{Filters: subs}, nil
}

func parseField(field string, v Value) ([]Filter, error) {
	if v.Kind() != KindMap || !hasOperatorKey(v.AsMap()) {
		return []Filter{Eq(field, v)}, nil
	}

	ops := v.AsMap()
	filters := make([]Filter, 0, ops.Len())
	for _, op := range ops.Keys() {
		operand, _ := ops.Get(op)

		switch Op(op) {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			filters = append(filters, Compare{Field: field, Op: Op(op), Value: operand})

		case "$in":
			if operand.Kind() != KindArray {
				return nil, goerr.Wrap(ErrInvalidQuery, "$in requires an array", goerr.V("field", field))
			}
			filters = append(filters, In{Field: field, Values: operand.AsArray()})

		case "$exists":
			if operand.Kind() != KindBool {
				return nil, goerr.Wrap(ErrInvalidQuery, "$exists requires a boolean", goerr.V("field", field))
			}
			filters = append(filters, Exists{Field: field, Want: operand.AsBool()})

		default:
			if strings.HasPrefix(op, "$") {
				return nil, goerr.Wrap(ErrInvalidQuery, "unknown field operator",
					goerr.V("field", field), goerr.V("operator", op))
			}
			return nil, goerr.Wrap(ErrInvalidQuery, "operators cannot be mixed with plain keys",
				goerr.V("field", field), goerr.V("key", op))
		}
	}
	return filters, nil
}

func hasOperatorKey(m *Map) bool {
	for _, k := range m.Keys() {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}
