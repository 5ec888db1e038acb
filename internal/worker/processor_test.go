package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-job-service/internal/entity"
	"media-job-service/internal/mailbox"
	"media-job-service/internal/media"
	"media-job-service/internal/storage"
	"media-job-service/internal/worker"
)

// ---- fakes ----

type fakeProcess struct {
	stdout io.Reader
	exit   media.Exit

	mu     sync.Mutex
	killed bool
	waits  int
	onKill func()
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdout }

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	if p.onKill != nil {
		p.onKill()
	}
}

func (p *fakeProcess) Wait() media.Exit {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return p.exit
}

type fakeRunner struct {
	proc     *fakeProcess
	startErr error
	args     []string
	// hang makes stdout block until the job context ends, like a stuck tool.
	hang bool
}

func (r *fakeRunner) Start(ctx context.Context, args []string) (media.Process, error) {
	r.args = args
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.hang {
		pr, pw := io.Pipe()
		r.proc.stdout = pr
		r.proc.onKill = func() { _ = pw.CloseWithError(errors.New("killed")) }
		go func() {
			<-ctx.Done()
			_ = pw.CloseWithError(ctx.Err())
		}()
	}
	return r.proc, nil
}

type multipartStore struct {
	mu         sync.Mutex
	parts      map[string]map[int][]byte
	objects    map[string][]byte
	types      map[string]string
	aborted    int
	failPartAt int
}

func newMultipartStore() *multipartStore {
	return &multipartStore{
		parts:   map[string]map[int][]byte{},
		objects: map[string][]byte{},
		types:   map[string]string{},
	}
}

func (s *multipartStore) NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[bucket+"/"+object] = map[int][]byte{}
	s.types[bucket+"/"+object] = opts.ContentType
	return bucket + "/" + object, nil
}

func (s *multipartStore) PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPartAt > 0 && partID == s.failPartAt {
		return minio.ObjectPart{}, errors.New("503 slow down")
	}
	b, _ := io.ReadAll(data)
	s.parts[uploadID][partID] = b
	return minio.ObjectPart{PartNumber: partID, ETag: fmt.Sprint(partID)}, nil
}

func (s *multipartStore) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var body []byte
	for _, p := range parts {
		body = append(body, s.parts[uploadID][p.PartNumber]...)
	}
	s.objects[uploadID] = body
	delete(s.parts, uploadID)
	return minio.UploadInfo{}, nil
}

func (s *multipartStore) AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted++
	delete(s.parts, uploadID)
	return nil
}

type panickingUploader struct{}

func (panickingUploader) Upload(ctx context.Context, r io.Reader, dst storage.Destination, contentType string) (string, error) {
	panic("nil pointer in encoder")
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(ctx context.Context, rec entity.StatusRecord) error {
	p.calls++
	return &mailbox.MailboxError{Op: "publish", JobID: rec.JobID, Err: errors.New("connection refused")}
}

type fakeLedger struct {
	mu      sync.Mutex
	events  []string
	lastURL string
	lastErr string
}

func (l *fakeLedger) MarkRunning(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "running")
	return nil
}

func (l *fakeLedger) MarkCompleted(ctx context.Context, id uuid.UUID, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "completed")
	l.lastURL = url
	return nil
}

func (l *fakeLedger) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "error")
	l.lastErr = errText
	return nil
}

// ---- helpers ----

type harness struct {
	runner *fakeRunner
	store  *multipartStore
	mb     *mailbox.Memory
	ledger *fakeLedger
	proc   *worker.Processor
}

func newHarness(proc *fakeProcess, cfg worker.Config) *harness {
	h := &harness{
		runner: &fakeRunner{proc: proc},
		store:  newMultipartStore(),
		mb:     mailbox.NewMemory(time.Hour),
		ledger: &fakeLedger{},
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "media"
	}
	up := storage.NewUploader(h.store, "us-east-1", storage.WithPartSize(4))
	h.proc = worker.NewProcessor(h.runner, up, h.mb, h.ledger, cfg, nil)
	return h
}

func (h *harness) take(t *testing.T, id uuid.UUID) entity.StatusRecord {
	t.Helper()
	rec, ok, err := h.mb.TakeMatching(context.Background(), id.String())
	require.NoError(t, err)
	require.True(t, ok, "no status published for %s", id)
	return rec
}

// ---- tests ----

func TestProcessor_ExtractAudio_Completed(t *testing.T) {
	proc := &fakeProcess{stdout: strings.NewReader("RIFF....WAVEfmt data")}
	h := newHarness(proc, worker.Config{})
	job := entity.NewJob(entity.ExtractAudio("https://x/sample.mp4"))

	require.NoError(t, h.proc.Process(context.Background(), job))

	rec := h.take(t, job.ID)
	assert.Equal(t, entity.StatusCompleted, rec.Status)
	assert.Equal(t, "https://media.s3.us-east-1.amazonaws.com/extracted-audio/"+job.ID.String()+".wav", rec.URL)

	key := "media/extracted-audio/" + job.ID.String() + ".wav"
	assert.Equal(t, "RIFF....WAVEfmt data", string(h.store.objects[key]))
	assert.Equal(t, "audio/wav", h.store.types[key])
	assert.Contains(t, h.runner.args, "https://x/sample.mp4")
	assert.Equal(t, 1, proc.waits)
	assert.False(t, proc.killed)
	assert.Equal(t, []string{"running", "completed"}, h.ledger.events)
	assert.Equal(t, rec.URL, h.ledger.lastURL)
}

func TestProcessor_Merge_UsesFinalVideoNamespace(t *testing.T) {
	proc := &fakeProcess{stdout: strings.NewReader("ftypisom")}
	h := newHarness(proc, worker.Config{})
	job := entity.NewJob(entity.MergeVideoAudio("https://x/v.mp4", "https://x/a.wav"))

	require.NoError(t, h.proc.Process(context.Background(), job))

	rec := h.take(t, job.ID)
	assert.Equal(t, "https://media.s3.us-east-1.amazonaws.com/final-videos/"+job.ID.String()+".mp4", rec.URL)
	assert.Equal(t, "video/mp4", h.store.types["media/final-videos/"+job.ID.String()+".mp4"])
	assert.Contains(t, h.runner.args, "-shortest")
}

func TestProcessor_NonZeroExitIsError(t *testing.T) {
	proc := &fakeProcess{
		stdout: strings.NewReader("partial bytes"),
		exit:   media.Exit{Code: 1, Stderr: "https://x/sample.mp4: Invalid data found when processing input\n"},
	}
	h := newHarness(proc, worker.Config{})
	job := entity.NewJob(entity.ExtractAudio("https://x/sample.mp4"))

	require.Error(t, h.proc.Process(context.Background(), job))

	rec := h.take(t, job.ID)
	assert.Equal(t, entity.StatusError, rec.Status)
	assert.Equal(t, "https://x/sample.mp4: Invalid data found when processing input", rec.Error)
	assert.Empty(t, rec.URL)
	assert.Equal(t, []string{"running", "error"}, h.ledger.events)
}

func TestProcessor_StorageFailureAbortsUpload(t *testing.T) {
	proc := &fakeProcess{stdout: strings.NewReader("aaaabbbbccccdddd")}
	h := newHarness(proc, worker.Config{})
	h.store.failPartAt = 3
	job := entity.NewJob(entity.ExtractAudio("https://x/sample.mp4"))

	require.Error(t, h.proc.Process(context.Background(), job))

	rec := h.take(t, job.ID)
	assert.Equal(t, entity.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "503 slow down")

	assert.Equal(t, 1, h.store.aborted)
	assert.Empty(t, h.store.objects, "no object may exist after abort")
	assert.Empty(t, h.store.parts)
	assert.True(t, proc.killed)
	assert.Equal(t, 1, proc.waits)
}

func TestProcessor_UploadErrorWinsOverExitCode(t *testing.T) {
	proc := &fakeProcess{
		stdout: strings.NewReader("aaaa"),
		exit:   media.Exit{Code: 255, Stderr: "Exiting normally, received signal 9"},
	}
	h := newHarness(proc, worker.Config{})
	h.store.failPartAt = 1
	job := entity.NewJob(entity.ExtractAudio("https://x/sample.mp4"))

	_ = h.proc.Process(context.Background(), job)

	rec := h.take(t, job.ID)
	assert.Contains(t, rec.Error, "503 slow down")
	assert.NotContains(t, rec.Error, "signal 9")
}

func TestProcessor_StartFailureIsError(t *testing.T) {
	h := newHarness(&fakeProcess{}, worker.Config{})
	h.runner.startErr = errors.New(`ffmpeg start: exec: "ffmpeg": executable file not found in $PATH`)
	job := entity.NewJob(entity.ExtractAudio("https://x/sample.mp4"))

	require.Error(t, h.proc.Process(context.Background(), job))

	rec := h.take(t, job.ID)
	assert.Equal(t, entity.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "executable file not found")
}

func TestProcessor_PanicBecomesError(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{stdout: strings.NewReader("x")}}
	mb := mailbox.NewMemory(time.Hour)
	p := worker.NewProcessor(runner, panickingUploader{}, mb, nil, worker.Config{Bucket: "media"}, nil)
	job := entity.NewJob(entity.ExtractAudio("https://x/sample.mp4"))

	require.Error(t, p.Process(context.Background(), job))

	rec, ok, err := mb.TakeMatching(context.Background(), job.ID.String())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entity.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "internal error")
}

func TestProcessor_TimeoutKillsToolAndAborts(t *testing.T) {
	proc := &fakeProcess{exit: media.Exit{Code: -1, Err: errors.New("signal: killed")}}
	h := newHarness(proc, worker.Config{Timeout: 50 * time.Millisecond})
	h.runner.hang = true
	job := entity.NewJob(entity.ExtractAudio("https://x/sample.mp4"))

	require.Error(t, h.proc.Process(context.Background(), job))

	rec := h.take(t, job.ID)
	assert.Equal(t, entity.StatusError, rec.Status)
	assert.True(t, strings.HasPrefix(rec.Error, "job timed out after 50ms"), rec.Error)
	assert.Equal(t, 1, h.store.aborted)
	assert.Empty(t, h.store.objects)
	assert.Equal(t, 1, proc.waits)
}

func TestProcessor_PublishFailureIsReturned(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{stdout: strings.NewReader("x")}}
	pub := &failingPublisher{}
	up := storage.NewUploader(newMultipartStore(), "us-east-1")
	p := worker.NewProcessor(runner, up, pub, nil, worker.Config{Bucket: "media"}, nil)

	err := p.Process(context.Background(), entity.NewJob(entity.ExtractAudio("https://x/sample.mp4")))

	var mbErr *mailbox.MailboxError
	require.ErrorAs(t, err, &mbErr)
	assert.Equal(t, 1, pub.calls)
}

func TestProcessor_OneStatusPerJobUnderConcurrency(t *testing.T) {
	mb := mailbox.NewMemory(time.Hour)
	store := newMultipartStore()
	up := storage.NewUploader(store, "us-east-1", storage.WithPartSize(2))

	jobs := make([]entity.Job, 6)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = entity.NewJob(entity.ExtractAudio(fmt.Sprintf("https://x/%d.mp4", i)))
		runner := &fakeRunner{proc: &fakeProcess{stdout: strings.NewReader(strings.Repeat("z", i+1))}}
		p := worker.NewProcessor(runner, up, mb, nil, worker.Config{Bucket: "media"}, nil)

		wg.Add(1)
		go func(job entity.Job) {
			defer wg.Done()
			_ = p.Process(context.Background(), job)
		}(jobs[i])
	}
	wg.Wait()

	assert.Equal(t, len(jobs), mb.Pending())
	for i, job := range jobs {
		rec, ok, err := mb.TakeMatching(context.Background(), job.ID.String())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, entity.StatusCompleted, rec.Status)
		assert.Len(t, store.objects["media/extracted-audio/"+job.ID.String()+".wav"], i+1)
	}
}
