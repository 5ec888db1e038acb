// Package mailbox is the shared status channel between job workers and
// pollers. Workers publish exactly one terminal record per job; a poll takes
// the record for its job atomically, so the first successful poll consumes it
// and later polls see nothing. Unpolled records expire after a TTL.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-job-service/internal/entity"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrAlreadyPublished = errors.New("status already published")
	ErrNotTerminal      = errors.New("only terminal status records can be published")
)

type Mailbox interface {
	Publish(ctx context.Context, rec entity.StatusRecord) error
	// TakeMatching removes and returns the record for jobID. ok is false
	// when no record is pending.
	TakeMatching(ctx context.Context, jobID string) (rec entity.StatusRecord, ok bool, err error)
}

// MailboxError wraps a backend fault during publish or take.
type MailboxError struct {
	Op    string
	JobID string
	Err   error
}

func (e *MailboxError) Error() string {
	return fmt.Sprintf("mailbox %s job_id=%s: %v", e.Op, e.JobID, e.Err)
}

func (e *MailboxError) Unwrap() error { return e.Err }

func checkPublishable(rec entity.StatusRecord) error {
	if rec.JobID == "" {
		return errors.New("status record without job id")
	}
	if !rec.IsTerminal() {
		return ErrNotTerminal
	}
	return nil
}
