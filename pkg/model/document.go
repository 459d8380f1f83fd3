package model

import (
	"bytes"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// IDField is the reserved field name carrying a document identifier on the wire
const IDField = "_id"

// Document is a schema-free record addressed by ID inside a collection
type Document struct {
	ID     ID
	Fields *Map
}

// NewDocument creates a document. A nil field map becomes an empty map.
func NewDocument(id ID, fields *Map) *Document {
	if fields == nil {
		fields = NewMap()
	}
	return &Document{ID: id, Fields: fields}
}

// Lookup resolves a field path. "_id" resolves to the hex identifier.
func (d *Document) Lookup(path string) (Value, bool) {
	if path == IDField {
		return String(d.ID.String()), true
	}
	return d.Fields.Lookup(path)
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	return &Document{ID: d.ID, Fields: d.Fields.Clone()}
}

// MarshalJSON renders the document with "_id" first, followed by its fields
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"` + IDField + `":`)
	id, err := json.Marshal(d.ID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode document id")
	}
	buf.Write(id)

	for _, k := range d.Fields.Keys() {
		if k == IDField {
			continue
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to encode key", goerr.V("key", k))
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		v, _ := d.Fields.Get(k)
		if err := v.writeJSON(&buf); err != nil {
			return nil, goerr.Wrap(err, "failed to encode field", goerr.V("key", k))
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a document whose "_id" holds a hex identifier
func (d *Document) UnmarshalJSON(data []byte) error {
	m := NewMap()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}

	idVal, ok := m.Get(IDField)
	if !ok || idVal.Kind() != KindString {
		return goerr.Wrap(ErrInvalidRequest, "document requires a string _id")
	}
	id, err := ParseID(idVal.AsString())
	if err != nil {
		return err
	}
	m.Delete(IDField)

	d.ID = id
	d.Fields = m
	return nil
}

// UpsertResult describes the outcome of an upsert
type UpsertResult struct {
	Created       bool  `json:"created"`
	ModifiedCount int64 `json:"modified_count"`
}
