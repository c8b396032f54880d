package tag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/storage"
)

var (
	// ErrTagUnavailable is returned when no tag is present or the hardware
	// request could not be completed.
	ErrTagUnavailable = errors.New("tag unavailable")
	// ErrEmptyTag is returned when a tag carries no records.
	ErrEmptyTag = errors.New("tag carries no records")
)

// Tag is what the hardware reports for a tag in range.
type Tag struct {
	ID      string   `json:"id"`
	Records []Record `json:"records,omitempty"`
}

// Hardware is the tag technology handle. Only one request may be
// outstanding at a time.
type Hardware interface {
	RequestTechnology(ctx context.Context) error
	CancelTechnologyRequest() error
	GetTag(ctx context.Context) (Tag, error)
	WriteMessage(ctx context.Context, records []Record) error
}

// AuditLog receives a record of every read and write.
type AuditLog interface {
	LogTagInteraction(i storage.TagInteraction) error
	UpsertTagDevice(tagID, profileID, label string, at time.Time) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Device   string
	Location string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Session serializes operations against a Hardware handle and audits them.
type Session struct {
	hw     Hardware
	audit  AuditLog
	sem    *semaphore.Weighted
	opts   SessionOptions
	logger *slog.Logger
}

// NewSession creates a Session. audit may be nil.
func NewSession(hw Hardware, audit AuditLog, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		hw:     hw,
		audit:  audit,
		sem:    semaphore.NewWeighted(1),
		opts:   opts,
		logger: logger,
	}
}

// ReadResult is a decoded tag read.
type ReadResult struct {
	TagID   string
	Payload Decoded
}

// Read reads the first record on the tag in range and decodes it.
func (s *Session) Read(ctx context.Context) (ReadResult, error) {
	var res ReadResult
	err := s.withTechnology(ctx, func() error {
		t, err := s.hw.GetTag(ctx)
		if err != nil {
			return fmt.Errorf("%w: reading tag: %w", ErrTagUnavailable, err)
		}
		res.TagID = t.ID
		if len(t.Records) == 0 {
			return ErrEmptyTag
		}
		res.Payload = DecodeRecord(t.Records[0])
		return nil
	})

	entry := storage.TagInteraction{TagID: res.TagID, Action: "read"}
	if res.Payload != nil {
		entry.PayloadType = string(res.Payload.Type())
	}
	s.record(entry, err)
	if err != nil {
		return ReadResult{}, err
	}
	return res, nil
}

// WriteProfile writes a profile envelope and maps the tag to the profile.
func (s *Session) WriteProfile(ctx context.Context, p contact.Profile) (string, error) {
	rec, err := EncodeProfile(p)
	if err != nil {
		return "", err
	}
	return s.write(ctx, rec, TypeProfile, p.ID, p.Name)
}

// WriteContactInfo writes a contact-info envelope.
func (s *Session) WriteContactInfo(ctx context.Context, info contact.ContactInfo) (string, error) {
	rec, err := EncodeContactInfo(info)
	if err != nil {
		return "", err
	}
	return s.write(ctx, rec, TypeContact, "", "")
}

// WriteURL writes a bare URI record.
func (s *Session) WriteURL(ctx context.Context, u string) (string, error) {
	if u == "" {
		return "", fmt.Errorf("writing url: empty url")
	}
	return s.write(ctx, URIRecord(u), TypeURL, "", u)
}

func (s *Session) write(ctx context.Context, rec Record, typ Type, profileID, label string) (string, error) {
	var tagID string
	err := s.withTechnology(ctx, func() error {
		t, err := s.hw.GetTag(ctx)
		if err != nil {
			return fmt.Errorf("%w: no tag in range: %w", ErrTagUnavailable, err)
		}
		tagID = t.ID
		if err := s.hw.WriteMessage(ctx, []Record{rec}); err != nil {
			return fmt.Errorf("%w: writing tag: %w", ErrTagUnavailable, err)
		}
		return nil
	})

	s.record(storage.TagInteraction{TagID: tagID, Action: "write", PayloadType: string(typ)}, err)
	if err != nil {
		return "", err
	}
	if s.audit != nil && tagID != "" {
		if err := s.audit.UpsertTagDevice(tagID, profileID, label, s.opts.Now()); err != nil {
			s.logger.Warn("tag device upsert failed", "tag", tagID, "error", err)
		}
	}
	return tagID, nil
}

// withTechnology holds the exclusive handle for the duration of fn and
// always cancels the technology request afterwards.
func (s *Session) withTechnology(ctx context.Context, fn func() error) (err error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrTagUnavailable, err)
	}
	defer s.sem.Release(1)

	if err := s.hw.RequestTechnology(ctx); err != nil {
		// Cancel anyway so a half-open request does not block later ones.
		s.cancel()
		return fmt.Errorf("%w: requesting technology: %w", ErrTagUnavailable, err)
	}
	defer s.cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: hardware panic: %v", ErrTagUnavailable, r)
		}
	}()
	return fn()
}

func (s *Session) cancel() {
	if err := s.hw.CancelTechnologyRequest(); err != nil {
		s.logger.Warn("cancelling tag technology request", "error", err)
	}
}

func (s *Session) record(entry storage.TagInteraction, opErr error) {
	if s.audit == nil {
		return
	}
	entry.Device = s.opts.Device
	entry.Location = s.opts.Location
	entry.CreatedAt = s.opts.Now()
	if entry.TagID == "" {
		entry.TagID = "unknown"
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	if err := s.audit.LogTagInteraction(entry); err != nil {
		s.logger.Warn("tag audit write failed", "action", entry.Action, "error", err)
	}
}
