package model

import (
	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID is a 12-byte identifier assigned by the persistence layer. It renders as
// a 24 character hex string on the wire.
type ID [12]byte

// NilID is the zero identifier. It is never assigned to a stored object.
var NilID ID

// NewID generates a new unique ID
func NewID() ID {
	return ID(primitive.NewObjectID())
}

// ParseID parses a hex encoded identifier
func ParseID(s string) (ID, error) {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return NilID, goerr.Wrap(ErrInvalidRequest, "malformed identifier", goerr.V("id", s))
	}
	return ID(oid), nil
}

func (id ID) String() string {
	return primitive.ObjectID(id).Hex()
}

// IsZero reports whether id is the zero identifier
func (id ID) IsZero() bool {
	return id == NilID
}

// ObjectID converts id into the document store native identifier
func (id ID) ObjectID() primitive.ObjectID {
	return primitive.ObjectID(id)
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := ParseID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
