package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered identifier such as
// "sale-0192a6b4-...". It falls back to a random v4 uuid if the v7 clock
// source fails.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}
