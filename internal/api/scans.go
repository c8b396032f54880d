package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/ingest"
	"github.com/kalambet/tapping/internal/optical"
	"github.com/kalambet/tapping/internal/scan"
	"github.com/kalambet/tapping/internal/storage"
	"github.com/kalambet/tapping/internal/tag"
)

// ScanRequest is the body of POST /scans. For nfc scans Data is the tag
// payload text; for paper-card and badge scans ImageBase64 is required.
type ScanRequest struct {
	Intent      string `json:"intent"`
	Data        string `json:"data"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

func (h *handler) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBodySize)
	defer r.Body.Close()

	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	intent, ok := contact.ParseIntent(body.Intent)
	if !ok {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown intent %q", body.Intent)
		return
	}

	req := scan.Request{Intent: intent, Data: body.Data, Requester: "http"}
	if intent.IsOptical() {
		img, err := decodeImage(body.ImageBase64, body.MIMEType)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		req.Image = img
	}
	if intent == contact.IntentTag && strings.TrimSpace(body.Data) != "" {
		req.Tag = tag.Decode(body.Data)
	}

	ctrl := scan.NewController(h.deps.Scan, nil)
	defer ctrl.Close()

	c, err := ctrl.Run(r.Context(), req)
	if err != nil {
		writeScanFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func decodeImage(b64, mime string) (optical.Image, error) {
	if b64 == "" {
		return optical.Image{}, nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return optical.Image{}, errors.New("invalid base64 image")
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return optical.Image{Data: data, MIMEType: mime}, nil
}

func (h *handler) handleEnqueueImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBodySize)
	defer r.Body.Close()

	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	intent, ok := contact.ParseIntent(body.Intent)
	if !ok || !intent.IsOptical() {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "intent must be paper-card or badge")
		return
	}
	if _, err := base64.StdEncoding.DecodeString(body.ImageBase64); err != nil || body.ImageBase64 == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "image_base64 is required")
		return
	}

	id, err := ingest.Enqueue(h.deps.Store, ingest.Payload{
		Intent:      intent,
		ImageBase64: body.ImageBase64,
		MIMEType:    body.MIMEType,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue scan: %v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "queued",
	})
}

// JobResponse is the body of GET /scans/jobs/{id}.
type JobResponse struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	Result    ingest.Result `json:"result"`
}

func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.deps.Store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && job.Type != ingest.JobType) {
		httpError(w, http.StatusNotFound, "not_found", "scan job not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
		return
	}
	res, err := ingest.DecodeResult(job.ResultJSON)
	if err != nil {
		h.logger.Warn("stored job result unreadable", "job_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, JobResponse{
		ID:        job.ID,
		Status:    job.Status,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		Result:    res,
	})
}
