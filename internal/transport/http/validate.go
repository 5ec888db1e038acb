package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 64 << 10

var (
	extractAudioSchema = jsonschema.MustCompileString("extract_audio.json", `{
		"type": "object",
		"required": ["video_url"],
		"properties": {
			"video_url": {"type": "string", "minLength": 1}
		}
	}`)
	mergeVideoAudioSchema = jsonschema.MustCompileString("merge_video_audio.json", `{
		"type": "object",
		"required": ["video_url", "audio_url"],
		"properties": {
			"video_url": {"type": "string", "minLength": 1},
			"audio_url": {"type": "string", "minLength": 1}
		}
	}`)
)

// decodeValid reads a JSON body, checks it against schema and decodes it
// into dst. The returned error text is safe to show to clients.
func decodeValid(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.New("request body too large or unreadable")
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return errors.New("invalid json")
	}
	if err := schema.Validate(doc); err != nil {
		return errors.New("invalid request: " + schemaMessage(err))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid json")
	}
	return nil
}

func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var msgs []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			msg := v.Message
			if v.InstanceLocation != "" {
				msg = strings.TrimPrefix(v.InstanceLocation, "/") + ": " + msg
			}
			msgs = append(msgs, msg)
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
