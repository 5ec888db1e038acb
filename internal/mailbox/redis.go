package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"media-job-service/internal/entity"
)

// Redis keeps one key per job, so pollers never touch other jobs' records.
//
//	<prefix>:status:<id>     JSON status record, taken with GETDEL
//	<prefix>:published:<id>  publish-once marker
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "mailbox"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) statusKey(id string) string    { return r.prefix + ":status:" + id }
func (r *Redis) publishedKey(id string) string { return r.prefix + ":published:" + id }

func (r *Redis) Publish(ctx context.Context, rec entity.StatusRecord) error {
	if err := checkPublishable(rec); err != nil {
		return &MailboxError{Op: "publish", JobID: rec.JobID, Err: err}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return &MailboxError{Op: "publish", JobID: rec.JobID, Err: err}
	}

	first, err := r.rdb.SetNX(ctx, r.publishedKey(rec.JobID), 1, r.ttl).Result()
	if err != nil {
		return &MailboxError{Op: "publish", JobID: rec.JobID, Err: err}
	}
	if !first {
		return &MailboxError{Op: "publish", JobID: rec.JobID, Err: ErrAlreadyPublished}
	}

	if err := r.rdb.Set(ctx, r.statusKey(rec.JobID), payload, r.ttl).Err(); err != nil {
		return &MailboxError{Op: "publish", JobID: rec.JobID, Err: err}
	}
	return nil
}

func (r *Redis) TakeMatching(ctx context.Context, jobID string) (entity.StatusRecord, bool, error) {
	payload, err := r.rdb.GetDel(ctx, r.statusKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity.StatusRecord{}, false, nil
		}
		return entity.StatusRecord{}, false, &MailboxError{Op: "take", JobID: jobID, Err: err}
	}

	var rec entity.StatusRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return entity.StatusRecord{}, false, &MailboxError{Op: "take", JobID: jobID, Err: err}
	}
	return rec, true, nil
}
