package identity

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new 26-char ULID for now. A zero now means the current time.
// IDs minted within the same millisecond stay monotonic.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}
	id, err := ulid.New(ulid.Timestamp(now.UTC()), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
