package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySeatLock(t *testing.T) {
	assert.Equal(t, "cinego:v1:lock:showtime:42:seat:7", KeySeatLock(42, 7))
}

func TestSeatLockKeysAreDistinctAcrossShowtimes(t *testing.T) {
	assert.NotEqual(t, KeySeatLock(1, 27), KeySeatLock(12, 7))
}

func TestJobKeys(t *testing.T) {
	assert.Equal(t, "cinego:v1:jobs:schedule", keyJobSchedule())
	assert.Equal(t, "cinego:v1:jobs:payload", keyJobPayload())
}
