package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"media-job-service/internal/entity"
)

type Queue interface {
	Enqueue(ctx context.Context, job entity.Job) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (Claim, error)
	Ack(ctx context.Context, c Claim) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
}

// Claim is a job taken off the queue. Raw is the exact payload stored in the
// processing list and is what Ack removes.
type Claim struct {
	Job entity.Job
	Raw string
}

// redisQueue is a reliable queue on Redis lists.
// Claim: BRPOPLPUSH queue -> processing
// Ack:   LREM processing <raw>
type redisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

func NewRedisQueue(rdb *redis.Client, queueKey, processingKey string) Queue {
	return &redisQueue{rdb: rdb, queueKey: queueKey, processingKey: processingKey}
}

func (q *redisQueue) Enqueue(ctx context.Context, job entity.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.rdb.LPush(ctx, q.queueKey, payload).Err()
}

// ClaimBlocking waits up to timeout for a job; redis.Nil means none arrived.
// A payload that does not decode is dropped from processing and reported.
func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (Claim, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if err != nil {
		return Claim{}, err
	}

	var job entity.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
		return Claim{}, fmt.Errorf("decode job payload: %w", err)
	}
	return Claim{Job: job, Raw: raw}, nil
}

func (q *redisQueue) Ack(ctx context.Context, c Claim) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, c.Raw).Err()
}

// RequeueStale moves items from processing back to the queue.
// It's a simple reaper for workers that died mid-job: at-least-once delivery.
// Only run it when no worker is busy, e.g. at worker startup.
func (q *redisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		_, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}
