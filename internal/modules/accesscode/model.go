// README: One-time driver registration codes.
package accesscode

import (
	"errors"
	"time"

	"tgtaxi/internal/types"
)

const (
	// Alphabet leaves out 0/O and 1/I so codes can be read aloud or copied by hand.
	Alphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength = 8
	// maxAttempts bounds collision retries before falling back to a uuid-derived code.
	maxAttempts = 10
)

var (
	ErrNotFound    = errors.New("access code not found")
	ErrExists      = errors.New("access code already exists")
	ErrInvalidCode = errors.New("invalid access code")
)

type AccessCode struct {
	Code      string
	IssuedBy  types.ID
	IsUsed    bool
	UsedBy    *types.ID
	CreatedAt time.Time
	UsedAt    *time.Time
}
