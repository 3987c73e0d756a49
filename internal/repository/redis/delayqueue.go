package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script that atomically claims due jobs: pops up to limit members with
// score <= now from the schedule zset and returns their payloads.
// KEYS[1] = schedule zset
// KEYS[2] = payload hash
// ARGV[1] = now_ms
// ARGV[2] = limit
const luaClaimDue = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], 0, ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for i, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  local p = redis.call('HGET', KEYS[2], id)
  redis.call('HDEL', KEYS[2], id)
  if p then out[#out+1] = p end
end
return out
`

func keyJobSchedule() string { return ns + ":jobs:schedule" }
func keyJobPayload() string  { return ns + ":jobs:payload" }

// DelayQueue schedules payloads for delivery after a fixed delay. Delivery
// is at-least-once: a consumer crash between Claim and completion loses the
// claim record but the handlers it feeds are idempotent by contract.
type DelayQueue struct {
	rdb    *redis.Client
	script *redis.Script
}

func NewDelayQueue(rdb *redis.Client) *DelayQueue {
	return &DelayQueue{
		rdb:    rdb,
		script: redis.NewScript(luaClaimDue),
	}
}

// Enqueue schedules payload to become due after delay. Scheduling is
// idempotent per jobID: re-arming an already-armed job keeps the original
// fire time and payload.
func (q *DelayQueue) Enqueue(ctx context.Context, jobID, payload string, delay time.Duration) error {
	fireAt := float64(time.Now().Add(delay).UnixMilli())

	pipe := q.rdb.TxPipeline()
	pipe.ZAddNX(ctx, keyJobSchedule(), redis.Z{Score: fireAt, Member: jobID})
	pipe.HSetNX(ctx, keyJobPayload(), jobID, payload)
	_, err := pipe.Exec(ctx)

	return err
}

// Remove disarms a scheduled job. Removing a job that already fired or was
// never armed is not an error.
func (q *DelayQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyJobSchedule(), jobID)
	pipe.HDel(ctx, keyJobPayload(), jobID)
	_, err := pipe.Exec(ctx)

	return err
}

// Claim atomically takes up to limit due jobs and returns their payloads.
func (q *DelayQueue) Claim(ctx context.Context, now time.Time, limit int) ([]string, error) {
	res, err := q.script.Run(
		ctx,
		q.rdb,
		[]string{keyJobSchedule(), keyJobPayload()},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
	).Result()
	if err != nil {
		return nil, err
	}

	arr, ok := res.([]any)
	if !ok {
		return nil, nil
	}

	payloads := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			payloads = append(payloads, s)
		}
	}

	return payloads, nil
}
