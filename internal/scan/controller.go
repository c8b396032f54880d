// Package scan sequences a single scan from raw payload to a stored contact.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kalambet/tapping/internal/canonical"
	"github.com/kalambet/tapping/internal/classify"
	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/optical"
	"github.com/kalambet/tapping/internal/tag"
	"github.com/kalambet/tapping/internal/vcard"
)

// Step labels published while loading.
const (
	StepStarting     = "Analyzing scan..."
	StepParsingQR    = "Parsing QR code..."
	StepImage        = "Processing image with AI..."
	StepReadingTag   = "Reading tag..."
	StepFetchProfile = "Fetching profile data..."
	StepVCard        = "Creating contact from vCard..."
	StepSocial       = "Creating contact from social profile..."
	StepURL          = "Processing URL..."
	StepText         = "Extracting contact details from text..."
	StepSaving       = "Saving contact..."
)

// State is the controller's externally visible state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	}
	return "idle"
}

// Update is delivered to the observer on every transition.
type Update struct {
	State   State
	Step    string
	Contact *contact.Contact
	Failure *Failure
}

// Observer receives updates. It is called synchronously from Run.
type Observer func(Update)

// Request is one scan. Data carries optical-code text or document text;
// Image is required for paper-card and badge intents. For tag scans either
// Tag holds an already-read payload or the controller reads one itself.
type Request struct {
	Intent    contact.Intent
	Data      string
	Image     optical.Image
	Tag       tag.Decoded
	Requester string
}

// Store is the persistence collaborator.
type Store interface {
	SaveContact(c contact.Contact) error
}

// ProfileResolver loads first-party profiles.
type ProfileResolver interface {
	Resolve(ctx context.Context, profileID, scanType string) (contact.Profile, error)
}

// Extractor runs optical extraction.
type Extractor interface {
	Extract(ctx context.Context, intent contact.Intent, img optical.Image, observe optical.Observer) (optical.Result, error)
}

// TagReader reads the tag in range.
type TagReader interface {
	Read(ctx context.Context) (tag.ReadResult, error)
}

// Deps are the controller's collaborators. Classifier and Canonicalizer
// default to the package defaults; the others may be nil when the
// corresponding scan paths are not used.
type Deps struct {
	Classifier    *classify.Classifier
	Canonicalizer *canonical.Canonicalizer
	Store         Store
	Profiles      ProfileResolver
	Optical       Extractor
	Tags          TagReader
	Logger        *slog.Logger
}

// Controller runs one scan at a time.
type Controller struct {
	deps    Deps
	logger  *slog.Logger
	observe Observer

	running atomic.Bool
	closed  atomic.Bool

	mu      sync.Mutex
	state   State
	unsaved *contact.Contact
}

// NewController creates a Controller. observe may be nil.
func NewController(deps Deps, observe Observer) *Controller {
	if deps.Classifier == nil {
		deps.Classifier = classify.New()
	}
	if deps.Canonicalizer == nil {
		deps.Canonicalizer = canonical.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{deps: deps, logger: logger, observe: observe}
}

// Close stops observer delivery. A scan still in flight finishes but its
// updates are dropped.
func (c *Controller) Close() {
	c.closed.Store(true)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) emit(u Update) {
	c.mu.Lock()
	c.state = u.State
	c.mu.Unlock()
	if c.observe == nil || c.closed.Load() {
		return
	}
	c.observe(u)
}

func (c *Controller) loading(step string) {
	c.emit(Update{State: StateLoading, Step: step})
}

// Run executes the scan and returns the stored contact. Any error returned
// other than ErrScanInProgress is a *Failure.
func (c *Controller) Run(ctx context.Context, req Request) (result contact.Contact, err error) {
	if !c.running.CompareAndSwap(false, true) {
		return contact.Contact{}, ErrScanInProgress
	}
	defer c.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scan panicked", "intent", req.Intent, "panic", r)
			err = newFailure(FailureInternal, ReasonInternal, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			f, ok := AsFailure(err)
			if !ok {
				f = newFailure(FailureInternal, ReasonInternal, err)
				err = f
			}
			c.emit(Update{State: StateFailure, Failure: f, Contact: f.Contact})
			c.logger.Warn("scan failed", "intent", req.Intent, "kind", f.Kind, "error", err)
		}
	}()

	c.loading(StepStarting)
	src, err := c.resolve(ctx, req)
	if err != nil {
		return contact.Contact{}, err
	}

	built := c.deps.Canonicalizer.Canonicalize(src, req.Intent)
	return c.persist(built)
}

// RetryPersist retries storing the contact whose last save failed.
func (c *Controller) RetryPersist() (contact.Contact, error) {
	if !c.running.CompareAndSwap(false, true) {
		return contact.Contact{}, ErrScanInProgress
	}
	defer c.running.Store(false)

	c.mu.Lock()
	pending := c.unsaved
	c.mu.Unlock()
	if pending == nil {
		return contact.Contact{}, errors.New("no contact awaiting persistence")
	}
	out, err := c.persist(*pending)
	if err != nil {
		f, _ := AsFailure(err)
		c.emit(Update{State: StateFailure, Failure: f, Contact: f.Contact})
	}
	return out, err
}

func (c *Controller) persist(built contact.Contact) (contact.Contact, error) {
	if c.deps.Store == nil {
		return contact.Contact{}, newFailure(FailureInternal, ReasonInternal, errors.New("no contact store configured"))
	}
	c.loading(StepSaving)
	if err := c.deps.Store.SaveContact(built); err != nil {
		kept := built
		c.mu.Lock()
		c.unsaved = &kept
		c.mu.Unlock()
		f := newFailure(FailurePersistence, ReasonPersistence, err)
		f.Contact = &kept
		return contact.Contact{}, f
	}
	c.mu.Lock()
	c.unsaved = nil
	c.mu.Unlock()

	saved := built
	c.emit(Update{State: StateSuccess, Contact: &saved})
	return built, nil
}

func (c *Controller) resolve(ctx context.Context, req Request) (canonical.Source, error) {
	switch {
	case req.Intent.IsOptical():
		return c.resolveImage(ctx, req)
	case req.Intent == contact.IntentTag:
		return c.resolveTag(ctx, req)
	}
	if strings.TrimSpace(req.Data) == "" {
		return nil, newFailure(FailureNoData, ReasonNoData, nil)
	}
	if req.Intent != contact.IntentDocument {
		c.loading(StepParsingQR)
	}
	return c.resolveText(ctx, req.Data, req.Intent)
}

func (c *Controller) resolveImage(ctx context.Context, req Request) (canonical.Source, error) {
	if len(req.Image.Data) == 0 {
		return nil, newFailure(FailureNoData, ReasonNoData, nil)
	}
	if c.deps.Optical == nil {
		return nil, newFailure(FailureInternal, ReasonInternal, errors.New("no optical extractor configured"))
	}
	c.loading(StepImage)
	res, err := c.deps.Optical.Extract(ctx, req.Intent, req.Image, func(s optical.Stage) {
		switch s {
		case optical.StageAnalyzing, optical.StageExtractingText, optical.StageExtractingFields:
			c.loading(s.Label())
		}
	})
	if err != nil {
		var xe *optical.ExtractionError
		if errors.As(err, &xe) {
			return nil, newFailure(FailureExtraction, xe.Message, err)
		}
		return nil, err
	}
	return canonical.OpticalSource{Result: res}, nil
}

func (c *Controller) resolveTag(ctx context.Context, req Request) (canonical.Source, error) {
	payload := req.Tag
	if payload == nil {
		if c.deps.Tags == nil {
			return nil, newFailure(FailureTagUnavailable, ReasonTagUnavailable, errors.New("no tag reader configured"))
		}
		c.loading(StepReadingTag)
		res, err := c.deps.Tags.Read(ctx)
		switch {
		case errors.Is(err, tag.ErrEmptyTag):
			return nil, newFailure(FailureNoData, ReasonNoData, err)
		case err != nil:
			return nil, newFailure(FailureTagUnavailable, ReasonTagUnavailable, err)
		}
		payload = res.Payload
	}

	switch p := payload.(type) {
	case tag.ProfilePayload:
		return c.resolveTagProfile(ctx, p.Profile, req.Intent), nil
	case tag.ContactPayload:
		if p.Info.IsZero() {
			return nil, newFailure(FailureNoData, ReasonNoData, nil)
		}
		return canonical.ContactInfoSource{Info: p.Info}, nil
	case tag.URLPayload:
		return c.resolveText(ctx, p.URL, req.Intent)
	case tag.TextPayload:
		if strings.TrimSpace(p.Content) == "" {
			return nil, newFailure(FailureNoData, ReasonNoData, nil)
		}
		return c.resolveText(ctx, p.Content, req.Intent)
	case tag.UnrecognizedPayload:
		return nil, newFailure(FailureClassificationUnknown, ReasonUnsupported, fmt.Errorf("tag payload type %q", p.Declared))
	}
	return nil, newFailure(FailureClassificationUnknown, ReasonUnsupported, nil)
}

// resolveTagProfile prefers the directory's copy of a profile written to a
// tag. The embedded copy is used when the directory cannot supply one, and
// then the contact is not marked active.
func (c *Controller) resolveTagProfile(ctx context.Context, embedded contact.Profile, intent contact.Intent) canonical.Source {
	if c.deps.Profiles != nil && embedded.ID != "" {
		c.loading(StepFetchProfile)
		live, err := c.deps.Profiles.Resolve(ctx, embedded.ID, string(intent))
		if err == nil {
			return canonical.ProfileSource{Profile: live}
		}
		c.logger.Warn("tag profile not resolvable, using embedded copy", "profile_id", embedded.ID, "error", err)
	}
	return canonical.ProfileSource{Profile: embedded, Snapshot: true}
}

func (c *Controller) resolveText(ctx context.Context, data string, intent contact.Intent) (canonical.Source, error) {
	switch r := c.deps.Classifier.Classify(data).(type) {
	case classify.ProfileReference:
		if c.deps.Profiles == nil {
			return nil, newFailure(FailureProfileLookup, ReasonProfileLookup, errors.New("no profile resolver configured"))
		}
		c.loading(StepFetchProfile)
		p, err := c.deps.Profiles.Resolve(ctx, r.ProfileID, string(intent))
		if err != nil {
			return nil, newFailure(FailureProfileLookup, ReasonProfileLookup, err)
		}
		return canonical.ProfileSource{Profile: p}, nil

	case classify.StructuredCard:
		c.loading(StepVCard)
		card := vcard.Parse(r.Raw)
		if !card.IsEmpty() {
			return canonical.CardSource{Card: card}, nil
		}
		c.logger.Warn("structured card had no usable fields, using text heuristics")
		res := optical.Heuristic(r.Raw)
		if res.Name == "" && res.ContactInfo.IsZero() {
			return nil, newFailure(FailureParseMalformed, ReasonMalformed, errors.New("structured card carries no fields"))
		}
		return canonical.OpticalSource{Result: res}, nil

	case classify.SocialProfileLink:
		c.loading(StepSocial)
		return canonical.SocialSource{Link: r}, nil

	case classify.GenericURL:
		c.loading(StepURL)
		return canonical.URLSource{URL: r.URL}, nil

	case classify.Unknown:
		if intent == contact.IntentDocument {
			c.loading(StepText)
			res := optical.Heuristic(r.Raw)
			if res.Name != "" || !res.ContactInfo.IsZero() {
				return canonical.OpticalSource{Result: res}, nil
			}
		}
		return nil, newFailure(FailureClassificationUnknown, ReasonUnsupported, nil)
	}
	return nil, newFailure(FailureClassificationUnknown, ReasonUnsupported, nil)
}
