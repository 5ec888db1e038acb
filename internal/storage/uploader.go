package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

const DefaultPartSize = 25 << 20

// MultipartAPI is the subset of *minio.Core the uploader drives.
type MultipartAPI interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

type Destination struct {
	Bucket string
	Key    string
}

type UploadError struct {
	Op       string
	Bucket   string
	Key      string
	UploadID string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

type TxState string

const (
	TxOpen      TxState = "open"
	TxCompleted TxState = "completed"
	TxAborted   TxState = "aborted"
)

// Transaction is one multipart upload. It is owned by a single Upload call.
type Transaction struct {
	Dest     Destination
	UploadID string
	Parts    []minio.CompletePart
	State    TxState
}

type Uploader struct {
	api       MultipartAPI
	region    string
	publicURL string
	partSize  int
	logger    *slog.Logger
}

type Option func(*Uploader)

func WithPartSize(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.partSize = n
		}
	}
}

// WithPublicURL replaces the AWS virtual-hosted URL with base + "/" + key.
func WithPublicURL(base string) Option {
	return func(u *Uploader) { u.publicURL = strings.TrimRight(base, "/") }
}

func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) { u.logger = l }
}

func NewUploader(api MultipartAPI, region string, opts ...Option) *Uploader {
	u := &Uploader{
		api:      api,
		region:   region,
		partSize: DefaultPartSize,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// ObjectURL is the canonical location of a finalized object.
func (u *Uploader) ObjectURL(dst Destination) string {
	if u.publicURL != "" {
		return u.publicURL + "/" + dst.Key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", dst.Bucket, u.region, dst.Key)
}

// Upload streams r into dst as a multipart upload and returns the object URL.
// The transaction either completes or is aborted before Upload returns.
func (u *Uploader) Upload(ctx context.Context, r io.Reader, dst Destination, contentType string) (string, error) {
	uploadID, err := u.api.NewMultipartUpload(ctx, dst.Bucket, dst.Key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", &UploadError{Op: "create", Bucket: dst.Bucket, Key: dst.Key, Err: err}
	}

	tx := &Transaction{Dest: dst, UploadID: uploadID, State: TxOpen}
	start := time.Now()

	if err := u.transfer(ctx, r, tx); err != nil {
		return "", u.abort(ctx, tx, err)
	}

	u.logger.Info("upload completed",
		"bucket", dst.Bucket, "key", dst.Key, "parts", len(tx.Parts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return u.ObjectURL(dst), nil
}

func (u *Uploader) transfer(ctx context.Context, r io.Reader, tx *Transaction) error {
	buf := make([]byte, u.partSize)
	partNumber := 1

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			part, err := u.api.PutObjectPart(ctx, tx.Dest.Bucket, tx.Dest.Key, tx.UploadID,
				partNumber, bytes.NewReader(buf[:n]), int64(n), minio.PutObjectPartOptions{})
			if err != nil {
				return &UploadError{Op: fmt.Sprintf("part %d", partNumber), Bucket: tx.Dest.Bucket, Key: tx.Dest.Key, UploadID: tx.UploadID, Err: err}
			}
			tx.Parts = append(tx.Parts, minio.CompletePart{PartNumber: partNumber, ETag: part.ETag})
			partNumber++
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			return &UploadError{Op: "read", Bucket: tx.Dest.Bucket, Key: tx.Dest.Key, UploadID: tx.UploadID, Err: readErr}
		}
	}

	// A killed producer reads as EOF; never finalize a cancelled stream.
	if err := ctx.Err(); err != nil {
		return &UploadError{Op: "read", Bucket: tx.Dest.Bucket, Key: tx.Dest.Key, UploadID: tx.UploadID, Err: err}
	}

	// A zero-part transaction is still finalized; storage decides what that means.
	if _, err := u.api.CompleteMultipartUpload(ctx, tx.Dest.Bucket, tx.Dest.Key, tx.UploadID, tx.Parts, minio.PutObjectOptions{}); err != nil {
		return &UploadError{Op: "complete", Bucket: tx.Dest.Bucket, Key: tx.Dest.Key, UploadID: tx.UploadID, Err: err}
	}
	tx.State = TxCompleted
	return nil
}

// abort runs on a context detached from ctx so a job deadline cannot skip it.
func (u *Uploader) abort(ctx context.Context, tx *Transaction, cause error) error {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := u.api.AbortMultipartUpload(abortCtx, tx.Dest.Bucket, tx.Dest.Key, tx.UploadID); err != nil {
		u.logger.Error("abort upload failed",
			"bucket", tx.Dest.Bucket, "key", tx.Dest.Key, "upload_id", tx.UploadID, "error", err,
		)
		return errors.Join(cause, &UploadError{Op: "abort", Bucket: tx.Dest.Bucket, Key: tx.Dest.Key, UploadID: tx.UploadID, Err: err})
	}
	tx.State = TxAborted

	u.logger.Warn("upload aborted",
		"bucket", tx.Dest.Bucket, "key", tx.Dest.Key, "parts", len(tx.Parts), "error", cause,
	)
	return cause
}
