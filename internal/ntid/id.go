// Package ntid wraps github.com/google/uuid so the rest of ntt stays
// decoupled from the concrete UUID package. An ID is random, not
// content-derived (content hashes use nthash.Hash instead; see
// internal/nthash). Worker IDs are currently plain strings built by the
// orchestrator, not ntid IDs.
package ntid

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// ID is a randomly generated identifier.
type ID uuid.UUID

// Nil is the zero-value ID.
var Nil ID

// New returns a new randomly generated ID, retrying briefly on entropy
// starvation and panicking only if all attempts fail.
func New() ID {
	var err error
	for i := 0; i < 10; i++ {
		var u uuid.UUID
		u, err = uuid.NewRandom()
		if err == nil {
			return ID(u)
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}

// Parse converts a string into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	return ID(u), err
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return bytes.Equal(id[:], Nil[:])
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}
