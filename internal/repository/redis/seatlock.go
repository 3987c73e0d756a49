package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const ns = "cinego:v1"

// KeySeatLock is the exclusive-hold key for one seat of one showtime.
func KeySeatLock(showTimeID, seatID int64) string {
	return fmt.Sprintf("%s:lock:showtime:%d:seat:%d", ns, showTimeID, seatID)
}

// SeatLocker is the distributed per-seat, per-showtime hold. A lock is an
// atomic set-if-absent with TTL; there is no renewal, so the hold vanishes
// exactly at acquisition time + ttl no matter what the holder is doing.
type SeatLocker struct {
	rdb *redis.Client
}

func NewSeatLocker(rdb *redis.Client) *SeatLocker {
	return &SeatLocker{rdb: rdb}
}

// Acquire takes the lock for holder. It reports false when the key is
// already held, by this holder or any other.
func (l *SeatLocker) Acquire(
	ctx context.Context,
	showTimeID, seatID int64,
	holder string,
	ttl time.Duration,
) (bool, error) {
	return l.rdb.SetNX(ctx, KeySeatLock(showTimeID, seatID), holder, ttl).Result()
}

// Release deletes the given lock keys unconditionally. It is only called
// on compensation paths; normal holds are left to expire by TTL.
func (l *SeatLocker) Release(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return l.rdb.Del(ctx, keys...).Err()
}
