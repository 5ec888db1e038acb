package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"media-job-service/internal/entity"
	"media-job-service/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
	logger *slog.Logger
}

func NewHandler(jobSvc *service.JobService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{jobSvc: jobSvc, logger: logger}
}

type extractAudioDTO struct {
	VideoURL string `json:"video_url"`
}

type mergeVideoAudioDTO struct {
	VideoURL string `json:"video_url"`
	AudioURL string `json:"audio_url"`
}

type submitResp struct {
	JobID  string        `json:"job_id"`
	Status entity.Status `json:"status"`
}

// ExtractAudio godoc
// @Summary Extract the audio track of a video
// @Description Starts a background job that writes a 44.1kHz 16-bit stereo WAV to storage.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body extractAudioDTO true "source video"
// @Success 202 {object} submitResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /extract-audio [post]
func (h *Handler) ExtractAudio(w http.ResponseWriter, r *http.Request) {
	var dto extractAudioDTO
	if err := decodeValid(w, r, extractAudioSchema, &dto); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	h.submit(w, r, entity.ExtractAudio(dto.VideoURL))
}

// MergeVideoAudio godoc
// @Summary Replace the audio track of a video
// @Description Starts a background job that muxes the video stream of video_url with the audio of audio_url into a fragmented MP4, cut to the shorter input.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body mergeVideoAudioDTO true "source video and audio"
// @Success 202 {object} submitResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /merge-video-audio [post]
func (h *Handler) MergeVideoAudio(w http.ResponseWriter, r *http.Request) {
	var dto mergeVideoAudioDTO
	if err := decodeValid(w, r, mergeVideoAudioSchema, &dto); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	h.submit(w, r, entity.MergeVideoAudio(dto.VideoURL, dto.AudioURL))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req entity.JobRequest) {
	id, err := h.jobSvc.Submit(r.Context(), req)
	if err != nil {
		var ce *entity.ClientError
		if errors.As(err, &ce) {
			writeErr(w, http.StatusBadRequest, ce.Error())
			return
		}
		h.logger.Error("submit job failed", "kind", string(req.Kind), "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResp{JobID: id.String(), Status: entity.StatusProcessing})
}

// Status godoc
// @Summary Poll a job
// @Description Returns the terminal status once, to the first poll that finds it. Until then, and afterwards, the job reports processing.
// @Tags jobs
// @Produce json
// @Param job_id query string true "job id"
// @Success 200 {object} entity.StatusRecord
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if jobID == "" {
		writeErr(w, http.StatusBadRequest, "job_id is required")
		return
	}

	rec, err := h.jobSvc.Status(r.Context(), jobID)
	if err != nil {
		h.logger.Error("status lookup failed", "job_id", jobID, "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetJob godoc
// @Summary Get the ledger entry of a job
// @Description Non-consuming view backed by the job ledger. Returns 404 when the ledger is disabled.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.JobRecord
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	rec, err := h.jobSvc.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("ledger lookup failed", "job_id", id.String(), "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
