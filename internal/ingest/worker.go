// Package ingest runs image scans in the background from the job queue.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/optical"
	"github.com/kalambet/tapping/internal/scan"
	"github.com/kalambet/tapping/internal/storage"
)

// JobType is the queue type of image scan jobs.
const JobType = "scan_image"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, resultJSON string) error
	FailJob(id, errMsg, resultJSON string) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Scanner runs one scan. *scan.Controller implements it.
type Scanner interface {
	Run(ctx context.Context, req scan.Request) (contact.Contact, error)
}

// Payload is the JSON stored with a scan_image job. Exactly one of
// ImagePath and ImageBase64 is set.
type Payload struct {
	Intent      contact.Intent `json:"intent"`
	ImagePath   string         `json:"image_path,omitempty"`
	ImageBase64 string         `json:"image_base64,omitempty"`
	MIMEType    string         `json:"mime_type,omitempty"`
}

// Result is the JSON stored when a job finishes.
type Result struct {
	ContactID   string           `json:"contact_id,omitempty"`
	Contact     *contact.Contact `json:"contact,omitempty"`
	FailureKind string           `json:"failure_kind,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// Enqueue validates p and queues it. Image scans are not retried by the
// queue; a failed scan is reported and the user scans again.
func Enqueue(q Enqueuer, p Payload) (string, error) {
	if !p.Intent.IsOptical() {
		return "", fmt.Errorf("intent %q is not an image scan", p.Intent)
	}
	if (p.ImagePath == "") == (p.ImageBase64 == "") {
		return "", errors.New("exactly one of image_path and image_base64 is required")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := q.EnqueueJob(storage.Job{
		ID:          id,
		Type:        JobType,
		PayloadJSON: string(body),
		MaxAttempts: 1,
	}); err != nil {
		return "", fmt.Errorf("enqueueing scan job: %w", err)
	}
	return id, nil
}

// Worker processes scan_image jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	scanner Scanner
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, scanner Scanner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		scanner: scanner,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		t := time.NewTimer(w.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// RunOnce claims and processes a single scan_image job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	res, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error(), encodeResult(res)); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, encodeResult(res)); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("scan job completed", "job_id", job.ID, "contact_id", res.ContactID)
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (Result, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return Result{FailureKind: scan.FailureInternal.String(), Reason: scan.ReasonInternal}, fmt.Errorf("parsing payload: %w", err)
	}

	img, err := loadImage(payload)
	if err != nil {
		return Result{FailureKind: scan.FailureNoData.String(), Reason: scan.ReasonNoData}, err
	}

	c, err := w.scanner.Run(ctx, scan.Request{Intent: payload.Intent, Image: img, Requester: "job:" + job.ID})
	if err != nil {
		res := Result{FailureKind: scan.FailureInternal.String(), Reason: scan.ReasonInternal}
		if f, ok := scan.AsFailure(err); ok {
			res.FailureKind = f.Kind.String()
			res.Reason = f.Reason
			res.Contact = f.Contact
		}
		return res, err
	}
	return Result{ContactID: c.ID, Contact: &c}, nil
}

func loadImage(p Payload) (optical.Image, error) {
	var data []byte
	var err error
	switch {
	case p.ImagePath != "":
		data, err = os.ReadFile(p.ImagePath)
		if err != nil {
			return optical.Image{}, fmt.Errorf("reading image: %w", err)
		}
	case p.ImageBase64 != "":
		data, err = base64.StdEncoding.DecodeString(p.ImageBase64)
		if err != nil {
			return optical.Image{}, fmt.Errorf("decoding image: %w", err)
		}
	}
	if len(data) == 0 {
		return optical.Image{}, errors.New("empty image")
	}
	mime := p.MIMEType
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return optical.Image{Data: data, MIMEType: mime}, nil
}

func encodeResult(r Result) string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeResult parses a job's stored result. An empty document yields the
// zero Result.
func DecodeResult(s string) (Result, error) {
	var r Result
	if s == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Result{}, fmt.Errorf("decoding job result: %w", err)
	}
	return r, nil
}
