package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed identifier. Version 7 UUIDs keep ids of the same
// prefix roughly ordered by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + "-" + uuid.NewString()
	}
	return prefix + "-" + id.String()
}
