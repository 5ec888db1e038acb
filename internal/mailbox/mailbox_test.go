package mailbox_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-job-service/internal/entity"
	"media-job-service/internal/mailbox"
)

type backend struct {
	name string
	new  func(t *testing.T) mailbox.Mailbox
}

func backends() []backend {
	return []backend{
		{name: "memory", new: func(t *testing.T) mailbox.Mailbox { return mailbox.NewMemory(time.Hour) }},
		{name: "redis", new: func(t *testing.T) mailbox.Mailbox {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return mailbox.NewRedis(rdb, "test", time.Hour)
		}},
	}
}

func TestMailbox_UnknownJobIsAbsent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			mb := b.new(t)
			ctx := context.Background()

			require.NoError(t, mb.Publish(ctx, entity.Completed(uuid.New(), "https://x/a.wav")))

			for i := 0; i < 3; i++ {
				_, ok, err := mb.TakeMatching(ctx, uuid.NewString())
				require.NoError(t, err)
				assert.False(t, ok)
			}
		})
	}
}

func TestMailbox_TakeLeavesOtherJobsIntact(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			mb := b.new(t)
			ctx := context.Background()

			var recs []entity.StatusRecord
			for i := 0; i < 4; i++ {
				id := uuid.New()
				rec := entity.Completed(id, fmt.Sprintf("https://x/%d.wav", i))
				if i%2 == 1 {
					rec = entity.Failed(id, "boom")
				}
				recs = append(recs, rec)
				require.NoError(t, mb.Publish(ctx, rec))
			}

			got, ok, err := mb.TakeMatching(ctx, recs[2].JobID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, recs[2], got)

			for _, i := range []int{3, 0, 1} {
				got, ok, err := mb.TakeMatching(ctx, recs[i].JobID)
				require.NoError(t, err)
				require.True(t, ok, "record %d lost", i)
				assert.Equal(t, recs[i], got)
			}
		})
	}
}

func TestMailbox_FirstPollConsumes(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			mb := b.new(t)
			ctx := context.Background()
			id := uuid.New()

			require.NoError(t, mb.Publish(ctx, entity.Completed(id, "https://x/a.wav")))

			_, ok, err := mb.TakeMatching(ctx, id.String())
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = mb.TakeMatching(ctx, id.String())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMailbox_PublishRejectsProcessingAndDuplicates(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			mb := b.new(t)
			ctx := context.Background()
			id := uuid.New()

			err := mb.Publish(ctx, entity.Processing(id.String()))
			require.ErrorIs(t, err, mailbox.ErrNotTerminal)

			require.NoError(t, mb.Publish(ctx, entity.Failed(id, "exit 1")))
			err = mb.Publish(ctx, entity.Completed(id, "https://x/a.wav"))
			require.ErrorIs(t, err, mailbox.ErrAlreadyPublished)

			var mbErr *mailbox.MailboxError
			require.ErrorAs(t, err, &mbErr)
			assert.Equal(t, "publish", mbErr.Op)

			got, ok, err := mb.TakeMatching(ctx, id.String())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, entity.StatusError, got.Status)
		})
	}
}

func TestMailbox_ConcurrentPollersDeliverOnce(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			mb := b.new(t)
			ctx := context.Background()

			ids := make([]string, 8)
			for i := range ids {
				id := uuid.New()
				ids[i] = id.String()
				require.NoError(t, mb.Publish(ctx, entity.Completed(id, "https://x/"+ids[i])))
			}

			var (
				mu    sync.Mutex
				seen  = map[string]int{}
				wg    sync.WaitGroup
				start = make(chan struct{})
			)
			for p := 0; p < 4; p++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					for _, id := range ids {
						_, ok, err := mb.TakeMatching(ctx, id)
						if err != nil || !ok {
							continue
						}
						mu.Lock()
						seen[id]++
						mu.Unlock()
					}
				}()
			}
			close(start)
			wg.Wait()

			require.Len(t, seen, len(ids))
			for id, n := range seen {
				assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
			}
		})
	}
}

func TestMemory_SweepEvictsExpired(t *testing.T) {
	mb := mailbox.NewMemory(50 * time.Millisecond)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, mb.Publish(ctx, entity.Completed(id, "https://x/a.wav")))
	assert.Equal(t, 1, mb.Pending())

	require.Eventually(t, func() bool { return mb.Sweep() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, mb.Pending())

	_, ok, err := mb.TakeMatching(ctx, id.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_RecordsExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mb := mailbox.NewRedis(rdb, "test", time.Minute)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, mb.Publish(ctx, entity.Completed(id, "https://x/a.wav")))
	mr.FastForward(2 * time.Minute)

	_, ok, err := mb.TakeMatching(ctx, id.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_BackendFailureSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()

	mb := mailbox.NewRedis(rdb, "test", time.Minute)
	mr.Close()

	err := mb.Publish(context.Background(), entity.Completed(uuid.New(), "https://x/a.wav"))
	var mbErr *mailbox.MailboxError
	require.ErrorAs(t, err, &mbErr)

	_, _, err = mb.TakeMatching(context.Background(), uuid.NewString())
	require.ErrorAs(t, err, &mbErr)
	assert.Equal(t, "take", mbErr.Op)
}
