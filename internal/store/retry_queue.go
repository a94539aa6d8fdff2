package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimDueScript moves up to ARGV[2] members with score <= ARGV[1] from the
// schedule into the in-flight set, scored by claim time.
var claimDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
    redis.call('ZREM', KEYS[1], member)
    redis.call('ZADD', KEYS[2], ARGV[1], member)
end
return due
`)

// recoverScript returns in-flight members claimed at or before ARGV[1]
// to the schedule, due at ARGV[2].
var recoverScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, member in ipairs(stale) do
    redis.call('ZREM', KEYS[2], member)
    redis.call('ZADD', KEYS[1], ARGV[2], member)
end
return #stale
`)

// ClaimedTask is a retry task removed from the schedule and awaiting Ack.
type ClaimedTask struct {
	domain.RetryTask
	member string
}

// RetryQueue is a durable delay queue of retry tasks: a Redis sorted set
// scored by due time, plus an in-flight set for claimed tasks so a crash
// between claim and completion does not lose them.
type RetryQueue struct {
	client      *redis.Client
	scheduleKey string
	inflightKey string
}

func NewRetryQueue(client *redis.Client) *RetryQueue {
	return &RetryQueue{
		client:      client,
		scheduleKey: RetryScheduleKey,
		inflightKey: RetryInflightKey,
	}
}

func (q *RetryQueue) Schedule(ctx context.Context, task domain.RetryTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling retry task: %w", err)
	}

	err = q.client.ZAdd(ctx, q.scheduleKey, redis.Z{
		Score:  float64(task.DueAt.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}
	return nil
}

// ClaimDue atomically takes up to limit tasks due at or before now.
func (q *RetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ClaimedTask, error) {
	res, err := claimDueScript.Run(ctx, q.client,
		[]string{q.scheduleKey, q.inflightKey},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claiming due retries: %w", err)
	}

	tasks := make([]ClaimedTask, 0, len(res))
	for _, member := range res {
		var t domain.RetryTask
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			// Unreadable entries would be recovered forever; drop them.
			q.client.ZRem(ctx, q.inflightKey, member)
			continue
		}
		tasks = append(tasks, ClaimedTask{RetryTask: t, member: member})
	}
	return tasks, nil
}

// Ack removes a finished task from the in-flight set.
func (q *RetryQueue) Ack(ctx context.Context, task ClaimedTask) error {
	if err := q.client.ZRem(ctx, q.inflightKey, task.member).Err(); err != nil {
		return fmt.Errorf("acking retry %s: %w", task.ID, err)
	}
	return nil
}

// Recover reschedules tasks claimed at or before claimedBefore and never
// acked, making them due immediately. It returns how many were moved.
func (q *RetryQueue) Recover(ctx context.Context, claimedBefore time.Time) (int64, error) {
	now := time.Now()
	n, err := recoverScript.Run(ctx, q.client,
		[]string{q.scheduleKey, q.inflightKey},
		strconv.FormatInt(claimedBefore.UnixMilli(), 10),
		strconv.FormatInt(now.UnixMilli(), 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("recovering in-flight retries: %w", err)
	}
	return n, nil
}

// Len returns the number of tasks waiting in the schedule.
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.scheduleKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading retry schedule size: %w", err)
	}
	return n, nil
}

func (q *RetryQueue) InflightLen(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.inflightKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading in-flight retry count: %w", err)
	}
	return n, nil
}
