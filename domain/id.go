package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// NewID generates a fresh random 128-bit entity identifier.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses a canonical UUID string into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}

// String renders an ID in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalJSON renders id as its canonical UUID string, so it round-trips
// through both HTTP bodies and Raft log entries/snapshots as a readable
// value rather than a 16-element byte array.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses id from its canonical UUID string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
