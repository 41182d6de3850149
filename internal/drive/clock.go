package drive

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the engine's only source of time. Trash ages, share expiry and
// recents ordering are all measured against it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator names temp files, staged uploads and generated file names.
type IDGenerator interface {
	New() string
}

// RandomIDs hands out v4 UUIDs.
type RandomIDs struct{}

func (RandomIDs) New() string { return uuid.NewString() }

// tempName returns a hidden name that listings skip and the temp sweeper
// eventually collects.
func tempName(ids IDGenerator, kind string) string {
	if kind == "" {
		return tempPrefix + ids.New()
	}
	return tempPrefix + kind + "-" + ids.New()
}
