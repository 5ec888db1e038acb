package media

import (
	"fmt"

	"media-job-service/internal/entity"
)

func baseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
}

// Args builds the ffmpeg argument list for req. Output always goes to stdout.
func Args(req entity.JobRequest) ([]string, error) {
	args := baseArgs()

	switch req.Kind {
	case entity.KindExtractAudio:
		args = append(args,
			"-i", req.VideoURL,
			"-vn",
			"-acodec", "pcm_s16le",
			"-ar", "44100",
			"-ac", "2",
			"-f", "wav",
			"pipe:1",
		)
	case entity.KindMergeVideoAudio:
		args = append(args,
			"-i", req.VideoURL,
			"-i", req.AudioURL,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "copy",
			"-c:a", "aac",
			"-shortest",
			"-movflags", "frag_keyframe+empty_moov",
			"-f", "mp4",
			"pipe:1",
		)
	default:
		return nil, fmt.Errorf("no ffmpeg arguments for job kind %q", req.Kind)
	}

	return args, nil
}
