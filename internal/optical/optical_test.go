package optical

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tapping/internal/contact"
)

type stubCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	requests []Request
}

func (s *stubCompleter) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.response, s.err
}

// fixedRandom always returns the same value.
type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }
func (f fixedRandom) IntN(n int) int   { return 0 }

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestOrchestrator(c Completer, rate float64, r Random) *Orchestrator {
	return New(c, Options{FailureRate: rate, Random: r, Sleep: noSleep, Timeout: time.Second})
}

func TestExtract_PaperCardJSON(t *testing.T) {
	c := &stubCompleter{response: "Sure! Here you go:\n```json\n" +
		`{"name":"Sarah Johnson","contactInfo":{"email":"sarah.johnson@techcorp.com","company":"TechCorp Solutions"},"socialLinks":[{"platform":"linkedin","url":"https://linkedin.com/in/sarahjohnson","username":"sarahjohnson"}]}` +
		"\n```\nLet me know if you need anything else {:"}
	o := newTestOrchestrator(c, 0, fixedRandom(0.5))

	var stages []Stage
	res, err := o.Extract(context.Background(), contact.IntentPaperCard, Image{Data: []byte{1}, MIMEType: "image/jpeg"}, func(s Stage) {
		stages = append(stages, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Sarah Johnson", res.Name)
	assert.Equal(t, "TechCorp Solutions", res.ContactInfo.Company)
	require.Len(t, res.SocialLinks, 1)
	assert.Equal(t, "sarahjohnson", res.SocialLinks[0].Username)
	assert.False(t, res.Heuristic)

	assert.Equal(t, []Stage{StageAnalyzing, StageExtractingText, StageExtractingFields, StageSucceeded}, stages)
	require.Len(t, c.requests, 1)
	assert.Equal(t, Prompt(contact.IntentPaperCard), c.requests[0].Prompt)
	assert.Equal(t, "image/jpeg", c.requests[0].Image.MIMEType)
}

func TestExtract_BadgeEventInfo(t *testing.T) {
	c := &stubCompleter{response: `{"name":"Michael Chen","contactInfo":{"company":"StartupIO"},"eventInfo":{"eventName":"Tech Conference 2024","attendeeType":"Speaker"}}`}
	o := newTestOrchestrator(c, 0, nil)

	res, err := o.Extract(context.Background(), contact.IntentBadge, Image{}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.EventInfo)
	assert.Equal(t, "Speaker", res.EventInfo.AttendeeType)
	assert.Contains(t, c.requests[0].Prompt, "event badge")
}

func TestExtract_MalformedFallsBackToHeuristics(t *testing.T) {
	c := &stubCompleter{response: "badge says: jane@startup.io, speaker at the summit"}
	o := newTestOrchestrator(c, 0, nil)

	res, err := o.Extract(context.Background(), contact.IntentBadge, Image{}, nil)
	require.NoError(t, err)
	assert.True(t, res.Heuristic)
	assert.Equal(t, "jane@startup.io", res.ContactInfo.Email)
	assert.Empty(t, res.Name)
}

func TestExtract_CompleterErrorWithoutText(t *testing.T) {
	c := &stubCompleter{err: errors.New("connection refused")}
	o := newTestOrchestrator(c, 0, nil)

	var last Stage
	_, err := o.Extract(context.Background(), contact.IntentPaperCard, Image{}, func(s Stage) { last = s })
	var xe *ExtractionError
	require.ErrorAs(t, err, &xe)
	assert.False(t, xe.Simulated)
	assert.Equal(t, FailureMessage(contact.IntentPaperCard), xe.Message)
	assert.Equal(t, StageFailed, last)
}

func TestExtract_TimeoutIsBounded(t *testing.T) {
	c := &stubCompleter{response: `{"name":"late"}`, delay: 5 * time.Second}
	o := New(c, Options{Sleep: noSleep, Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := o.Extract(context.Background(), contact.IntentBadge, Image{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExtract_SimulatedFailureBoundary(t *testing.T) {
	c := &stubCompleter{response: `{"name":"A B"}`}

	_, err := newTestOrchestrator(c, 0.1, fixedRandom(0.0999)).Extract(context.Background(), contact.IntentPaperCard, Image{}, nil)
	var xe *ExtractionError
	require.ErrorAs(t, err, &xe)
	assert.True(t, xe.Simulated)
	assert.Equal(t, "Could not clearly read the business card. Please ensure good lighting and try again.", xe.Error())

	_, err = newTestOrchestrator(c, 0.1, fixedRandom(0.1)).Extract(context.Background(), contact.IntentPaperCard, Image{}, nil)
	require.NoError(t, err)

	_, err = newTestOrchestrator(c, 0.1, fixedRandom(0)).Extract(context.Background(), contact.IntentBadge, Image{}, nil)
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, "Could not extract information from the badge. Please ensure the text is clearly visible.", xe.Message)
}

func TestExtract_SimulatedFailureRate(t *testing.T) {
	c := &stubCompleter{response: `{"name":"A B"}`}
	o := newTestOrchestrator(c, DefaultFailureRate, rand.New(rand.NewPCG(42, 1024)))

	const runs = 1000
	failures := 0
	for i := 0; i < runs; i++ {
		_, err := o.Extract(context.Background(), contact.IntentPaperCard, Image{}, nil)
		var xe *ExtractionError
		if errors.As(err, &xe) && xe.Simulated {
			failures++
		}
	}
	rate := float64(failures) / runs
	assert.InDelta(t, DefaultFailureRate, rate, 0.04, "failure rate %.3f", rate)
}

func TestExtract_RejectsNonOpticalIntent(t *testing.T) {
	o := newTestOrchestrator(&stubCompleter{}, 0, nil)
	_, err := o.Extract(context.Background(), contact.IntentQR, Image{}, nil)
	require.Error(t, err)
}

func TestExtract_StageDelays(t *testing.T) {
	var slept []time.Duration
	o := New(&stubCompleter{response: `{"name":"A B"}`}, Options{
		Delays: DefaultDelays,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})
	_, err := o.Extract(context.Background(), contact.IntentPaperCard, Image{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{800 * time.Millisecond, time.Second, 700 * time.Millisecond}, slept)

	half := DefaultDelays.Scale(0.5)
	assert.Equal(t, 400*time.Millisecond, half.Analyzing)
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := New(&stubCompleter{response: `{"name":"A B"}`}, Options{Delays: DefaultDelays})
	_, err := o.Extract(ctx, contact.IntentBadge, Image{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStageLabels(t *testing.T) {
	assert.Equal(t, "Analyzing image...", StageAnalyzing.Label())
	assert.Equal(t, "Extracting text with OCR...", StageExtractingText.Label())
	assert.Equal(t, "Processing contact information...", StageExtractingFields.Label())
	assert.Equal(t, "extracting_fields", StageExtractingFields.String())
}

func TestParseResult(t *testing.T) {
	_, err := ParseResult("no braces here")
	assert.Error(t, err)

	_, err = ParseResult(`{"unrelated":true}`)
	assert.Error(t, err)

	res, err := ParseResult(`{"name":"  Ann Lee ","eventInfo":{}}`)
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", res.Name)
	assert.Nil(t, res.EventInfo)
}

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`x {"a":1} y {"b":2}`, `{"a":1}`, true},
		{`{"a":"}{"}`, `{"a":"}{"}`, true},
		{`{"a":"\"}"}`, `{"a":"\"}"}`, true},
		{`{"a":{"b":{}}} tail`, `{"a":{"b":{}}}`, true},
		{`{ unbalanced`, ``, false},
		{`} { {"ok":1}`, `{"ok":1}`, true},
		{``, ``, false},
	}
	for _, tc := range cases {
		got, ok := firstJSONObject(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestDemoCompleter(t *testing.T) {
	o := New(NewDemoCompleter(fixedRandom(0)), Options{Sleep: noSleep})

	card, err := o.Extract(context.Background(), contact.IntentPaperCard, Image{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Sarah Johnson", card.Name)
	assert.Equal(t, "TechCorp Solutions", card.ContactInfo.Company)

	badge, err := o.Extract(context.Background(), contact.IntentBadge, Image{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Michael Chen", badge.Name)
	require.NotNil(t, badge.EventInfo)
	assert.Equal(t, "SPK-001", badge.EventInfo.BadgeNumber)
}
