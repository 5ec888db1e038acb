package mailbox

import (
	"context"
	"sync"
	"time"

	"media-job-service/internal/entity"
)

type memoryEntry struct {
	rec       entity.StatusRecord
	expiresAt time.Time
}

// Memory is a process-local mailbox. Use it when the API and the workers
// share one process.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	// published remembers ids until expiry so a second publish is rejected
	// even after the first record was taken.
	published map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries:   map[string]memoryEntry{},
		published: map[string]time.Time{},
		ttl:       ttl,
		now:       time.Now,
	}
}

func (m *Memory) Publish(ctx context.Context, rec entity.StatusRecord) error {
	if err := checkPublishable(rec); err != nil {
		return &MailboxError{Op: "publish", JobID: rec.JobID, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.published[rec.JobID]; ok && now.Before(exp) {
		return &MailboxError{Op: "publish", JobID: rec.JobID, Err: ErrAlreadyPublished}
	}

	exp := now.Add(m.ttl)
	m.entries[rec.JobID] = memoryEntry{rec: rec, expiresAt: exp}
	m.published[rec.JobID] = exp
	return nil
}

func (m *Memory) TakeMatching(ctx context.Context, jobID string) (entity.StatusRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[jobID]
	if !ok {
		return entity.StatusRecord{}, false, nil
	}
	delete(m.entries, jobID)
	if !m.now().Before(e.expiresAt) {
		return entity.StatusRecord{}, false, nil
	}
	return e.rec, true, nil
}

// Pending is the number of records waiting to be polled.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep drops expired entries and returns how many records were evicted.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
			evicted++
		}
	}
	for id, exp := range m.published {
		if !now.Before(exp) {
			delete(m.published, id)
		}
	}
	return evicted
}
