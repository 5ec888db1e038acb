package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	KindExtractAudio    JobKind = "extract_audio"
	KindMergeVideoAudio JobKind = "merge_video_audio"
)

// ErrInvalidRequest is wrapped by every ClientError.
var ErrInvalidRequest = errors.New("invalid job request")

// ClientError is a malformed or incomplete job request. It is reported at
// submission time, before any worker starts.
type ClientError struct {
	Field  string
	Reason string
}

func (e *ClientError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

func (e *ClientError) Unwrap() error { return ErrInvalidRequest }

type JobRequest struct {
	Kind     JobKind `json:"kind"`
	VideoURL string  `json:"video_url"`
	AudioURL string  `json:"audio_url,omitempty"`
}

func ExtractAudio(videoURL string) JobRequest {
	return JobRequest{Kind: KindExtractAudio, VideoURL: videoURL}
}

func MergeVideoAudio(videoURL, audioURL string) JobRequest {
	return JobRequest{Kind: KindMergeVideoAudio, VideoURL: videoURL, AudioURL: audioURL}
}

func (r JobRequest) Validate() error {
	switch r.Kind {
	case KindExtractAudio:
		if strings.TrimSpace(r.VideoURL) == "" {
			return &ClientError{Field: "video_url", Reason: "is required"}
		}
	case KindMergeVideoAudio:
		if strings.TrimSpace(r.VideoURL) == "" {
			return &ClientError{Field: "video_url", Reason: "is required"}
		}
		if strings.TrimSpace(r.AudioURL) == "" {
			return &ClientError{Field: "audio_url", Reason: "is required"}
		}
	default:
		return &ClientError{Field: "kind", Reason: fmt.Sprintf("%q is not supported", r.Kind)}
	}
	return nil
}

// Output describes where and how a job's result is stored.
type Output struct {
	Prefix      string
	Extension   string
	ContentType string
}

func (o Output) Key(id uuid.UUID) string {
	return o.Prefix + id.String() + o.Extension
}

func (k JobKind) Output() (Output, error) {
	switch k {
	case KindExtractAudio:
		return Output{Prefix: "extracted-audio/", Extension: ".wav", ContentType: "audio/wav"}, nil
	case KindMergeVideoAudio:
		return Output{Prefix: "final-videos/", Extension: ".mp4", ContentType: "video/mp4"}, nil
	default:
		return Output{}, fmt.Errorf("unknown job kind %q", k)
	}
}

type Job struct {
	ID        uuid.UUID  `json:"job_id"`
	Request   JobRequest `json:"request"`
	CreatedAt time.Time  `json:"created_at"`
}

func NewJob(req JobRequest) Job {
	return Job{ID: uuid.New(), Request: req, CreatedAt: time.Now().UTC()}
}
