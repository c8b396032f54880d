// Package optical turns a photographed business card or event badge into
// loosely structured contact fields through an external completion service.
package optical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/tapping/internal/contact"
)

// Image is an encoded photo of the scanned source.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is what a Completer receives.
type Request struct {
	Intent contact.Intent
	Prompt string
	Image  Image
}

// Completer is the external text-completion service. The response is free
// text expected to contain one JSON object.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Random is the injectable source behind the simulated failure and the demo
// card choice. *rand.Rand satisfies it.
type Random interface {
	Float64() float64
	IntN(n int) int
}

// Stage is a step of the extraction flow.
type Stage int

const (
	StageIdle Stage = iota
	StageAnalyzing
	StageExtractingText
	StageExtractingFields
	StageSucceeded
	StageFailed
)

var stageLabels = map[Stage]string{
	StageIdle:             "Waiting for image...",
	StageAnalyzing:        "Analyzing image...",
	StageExtractingText:   "Extracting text with OCR...",
	StageExtractingFields: "Processing contact information...",
	StageSucceeded:        "Contact extracted",
	StageFailed:           "Extraction failed",
}

// Label is the progress text shown for the stage.
func (s Stage) Label() string { return stageLabels[s] }

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAnalyzing:
		return "analyzing"
	case StageExtractingText:
		return "extracting_text"
	case StageExtractingFields:
		return "extracting_fields"
	case StageSucceeded:
		return "succeeded"
	case StageFailed:
		return "failed"
	}
	return "unknown"
}

// Observer is notified on every stage transition.
type Observer func(stage Stage)

// Link is a social link as reported by the completion service.
type Link struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
}

// EventInfo is the event block of a badge extraction.
type EventInfo struct {
	EventName    string `json:"eventName,omitempty"`
	AttendeeType string `json:"attendeeType,omitempty"`
	BadgeNumber  string `json:"badgeNumber,omitempty"`
}

// Result is a successful extraction.
type Result struct {
	Name        string              `json:"name,omitempty"`
	ContactInfo contact.ContactInfo `json:"contactInfo"`
	SocialLinks []Link              `json:"socialLinks,omitempty"`
	EventInfo   *EventInfo          `json:"eventInfo,omitempty"`

	// Heuristic is set when the fields came from the free-text fallback.
	Heuristic bool `json:"-"`
}

func (r Result) empty() bool {
	return r.Name == "" && r.ContactInfo.IsZero() && len(r.SocialLinks) == 0 && r.EventInfo == nil
}

// ExtractionError reports that the source could not be read. Message is
// safe to show to the user.
type ExtractionError struct {
	Intent    contact.Intent
	Message   string
	Simulated bool
	Err       error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Delays are the pauses spent in each stage.
type Delays struct {
	Analyzing        time.Duration
	ExtractingText   time.Duration
	ExtractingFields time.Duration
}

// DefaultDelays mirror the pacing users see in the app.
var DefaultDelays = Delays{
	Analyzing:        800 * time.Millisecond,
	ExtractingText:   1000 * time.Millisecond,
	ExtractingFields: 700 * time.Millisecond,
}

// Scale multiplies every delay by f.
func (d Delays) Scale(f float64) Delays {
	return Delays{
		Analyzing:        time.Duration(float64(d.Analyzing) * f),
		ExtractingText:   time.Duration(float64(d.ExtractingText) * f),
		ExtractingFields: time.Duration(float64(d.ExtractingFields) * f),
	}
}

const (
	DefaultFailureRate = 0.1
	DefaultTimeout     = 30 * time.Second
)

// Options configures an Orchestrator. Zero values mean: no simulated
// failures, no delays, DefaultTimeout, a time-seeded random source.
type Options struct {
	FailureRate float64
	Delays      Delays
	Timeout     time.Duration
	Random      Random
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *slog.Logger
}

// Orchestrator runs the staged extraction flow.
type Orchestrator struct {
	completer Completer
	opts      Options
	logger    *slog.Logger

	mu sync.Mutex // guards opts.Random
}

// New creates an Orchestrator backed by completer.
func New(completer Completer, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Random == nil {
		now := uint64(time.Now().UnixNano())
		opts.Random = rand.New(rand.NewPCG(now, now>>17))
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{completer: completer, opts: opts, logger: logger}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Extract runs the flow for a paper-card or badge image. observe may be nil.
// An *ExtractionError is returned when the source could not be read.
func (o *Orchestrator) Extract(ctx context.Context, intent contact.Intent, img Image, observe Observer) (Result, error) {
	if !intent.IsOptical() {
		return Result{}, fmt.Errorf("optical extraction does not handle intent %q", intent)
	}
	notify := func(s Stage) {
		if observe != nil {
			observe(s)
		}
	}
	fail := func(err error) (Result, error) {
		notify(StageFailed)
		return Result{}, err
	}

	notify(StageAnalyzing)
	if err := o.opts.Sleep(ctx, o.opts.Delays.Analyzing); err != nil {
		return fail(err)
	}

	notify(StageExtractingText)
	if err := o.opts.Sleep(ctx, o.opts.Delays.ExtractingText); err != nil {
		return fail(err)
	}
	raw, callErr := o.complete(ctx, intent, img)

	notify(StageExtractingFields)
	if err := o.opts.Sleep(ctx, o.opts.Delays.ExtractingFields); err != nil {
		return fail(err)
	}

	if o.simulateFailure() {
		o.logger.Warn("simulated optical extraction failure", "intent", intent)
		return fail(&ExtractionError{Intent: intent, Message: FailureMessage(intent), Simulated: true})
	}

	res, err := o.parse(intent, raw, callErr)
	if err != nil {
		return fail(err)
	}
	notify(StageSucceeded)
	return res, nil
}

func (o *Orchestrator) simulateFailure() bool {
	if o.opts.FailureRate <= 0 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts.Random.Float64() < o.opts.FailureRate
}

func (o *Orchestrator) complete(ctx context.Context, intent contact.Intent, img Image) (string, error) {
	if o.completer == nil {
		return "", errors.New("no completion service configured")
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	raw, err := o.completer.Complete(ctx, Request{Intent: intent, Prompt: Prompt(intent), Image: img})
	if err != nil {
		o.logger.Warn("optical completion failed", "intent", intent, "error", err)
	}
	return raw, err
}

// parse prefers the embedded JSON object and falls back to heuristics on
// whatever text came back.
func (o *Orchestrator) parse(intent contact.Intent, raw string, callErr error) (Result, error) {
	if strings.TrimSpace(raw) == "" {
		if callErr == nil {
			callErr = errors.New("empty completion")
		}
		return Result{}, &ExtractionError{Intent: intent, Message: FailureMessage(intent), Err: callErr}
	}

	if callErr == nil {
		res, err := ParseResult(raw)
		if err == nil {
			return res, nil
		}
		o.logger.Warn("optical response not parseable, using text heuristics", "intent", intent, "error", err)
	}

	res := Heuristic(raw)
	res.Heuristic = true
	return res, nil
}

// ParseResult decodes the first JSON object embedded in raw.
func ParseResult(raw string) (Result, error) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Result{}, errors.New("no JSON object in response")
	}
	var res Result
	if err := json.Unmarshal([]byte(obj), &res); err != nil {
		return Result{}, fmt.Errorf("decoding extraction JSON: %w", err)
	}
	if res.empty() {
		return Result{}, errors.New("extraction JSON carries no contact fields")
	}
	res.Name = strings.TrimSpace(res.Name)
	if res.EventInfo != nil && *res.EventInfo == (EventInfo{}) {
		res.EventInfo = nil
	}
	return res, nil
}
