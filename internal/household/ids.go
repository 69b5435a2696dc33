package household

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique record IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// UUIDGenerator generates random (version 4) UUIDs
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// SystemClock provides the wall-clock time
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
