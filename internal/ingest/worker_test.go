package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/optical"
	"github.com/kalambet/tapping/internal/scan"
	"github.com/kalambet/tapping/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubCompleter struct {
	text string
	err  error
}

func (s stubCompleter) Complete(ctx context.Context, req optical.Request) (string, error) {
	return s.text, s.err
}

type failingSaver struct{}

func (failingSaver) SaveContact(contact.Contact) error { return errors.New("disk full") }

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newScanner(store scan.Store, completer optical.Completer) *scan.Controller {
	orch := optical.New(completer, optical.Options{
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
	return scan.NewController(scan.Deps{Store: store, Optical: orch}, nil)
}

const sarahJSON = `{"name":"Sarah Johnson","contactInfo":{"email":"sarah.johnson@techcorp.com","company":"TechCorp Solutions"}}`

func enqueueTestJob(t *testing.T, store *storage.Store) string {
	t.Helper()
	id, err := Enqueue(store, Payload{
		Intent:      contact.IntentPaperCard,
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0 fake jpeg")),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	id := enqueueTestJob(t, store)

	w := NewWorker(store, newScanner(store, stubCompleter{text: sarahJSON}), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	job, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	res, err := DecodeResult(job.ResultJSON)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if res.ContactID == "" || res.Contact == nil || res.Contact.Name != "Sarah Johnson" {
		t.Errorf("result = %+v", res)
	}

	saved, err := store.GetContact(res.ContactID)
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if saved.MeetingContext != "Scanned from business card" {
		t.Errorf("MeetingContext = %q", saved.MeetingContext)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, newScanner(store, stubCompleter{}), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true with an empty queue")
	}
}

func TestWorker_ExtractionFailureMarksJobFailed(t *testing.T) {
	store := openTestStore(t)
	id := enqueueTestJob(t, store)

	w := NewWorker(store, newScanner(store, stubCompleter{err: errors.New("service unavailable")}), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	job, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "failed" {
		t.Errorf("status = %q, want failed", job.Status)
	}
	res, err := DecodeResult(job.ResultJSON)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if res.FailureKind != scan.FailureExtraction.String() {
		t.Errorf("FailureKind = %q, want %q", res.FailureKind, scan.FailureExtraction.String())
	}
	if res.Reason != optical.FailureMessage(contact.IntentPaperCard) {
		t.Errorf("Reason = %q", res.Reason)
	}
	if n, _ := store.CountContacts(); n != 0 {
		t.Errorf("CountContacts = %d, want 0", n)
	}
}

func TestWorker_PersistenceFailureKeepsContact(t *testing.T) {
	store := openTestStore(t)
	id := enqueueTestJob(t, store)

	w := NewWorker(store, newScanner(failingSaver{}, stubCompleter{text: sarahJSON}), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	job, _ := store.GetJob(id)
	res, err := DecodeResult(job.ResultJSON)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if res.FailureKind != scan.FailurePersistence.String() {
		t.Errorf("FailureKind = %q", res.FailureKind)
	}
	if res.Contact == nil || res.Contact.Name != "Sarah Johnson" {
		t.Errorf("unsaved contact missing from result: %+v", res.Contact)
	}
}

func TestWorker_FailureKinds(t *testing.T) {
	store := openTestStore(t)

	missing, err := Enqueue(store, Payload{
		Intent:    contact.IntentBadge,
		ImagePath: filepath.Join(t.TempDir(), "no-such-badge.jpg"),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	garbled := "job-garbled"
	if err := store.EnqueueJob(storage.Job{ID: garbled, Type: JobType, PayloadJSON: "{not json", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(store, newScanner(store, stubCompleter{text: sarahJSON}), 0)
	for i := 0; i < 2; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce error: %v", err)
		}
	}

	want := map[string]scan.FailureKind{
		missing: scan.FailureNoData,
		garbled: scan.FailureInternal,
	}
	for id, kind := range want {
		job, err := store.GetJob(id)
		if err != nil {
			t.Fatalf("GetJob(%s): %v", id, err)
		}
		res, err := DecodeResult(job.ResultJSON)
		if err != nil {
			t.Fatalf("DecodeResult: %v", err)
		}
		if res.FailureKind != kind.String() {
			t.Errorf("job %s FailureKind = %q, want %q", id, res.FailureKind, kind.String())
		}
	}
}

func TestWorker_ReadsImageFromPath(t *testing.T) {
	store := openTestStore(t)
	path := filepath.Join(t.TempDir(), "card.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	var seen optical.Request
	var mu sync.Mutex
	completer := recordingCompleter(func(req optical.Request) {
		mu.Lock()
		seen = req
		mu.Unlock()
	})
	id, err := Enqueue(store, Payload{Intent: contact.IntentBadge, ImagePath: path})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, newScanner(store, completer), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen.Image.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", seen.Image.MIMEType)
	}
	if seen.Intent != contact.IntentBadge {
		t.Errorf("Intent = %q", seen.Intent)
	}
	job, _ := store.GetJob(id)
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
}

type recordingCompleter func(optical.Request)

func (r recordingCompleter) Complete(ctx context.Context, req optical.Request) (string, error) {
	r(req)
	return `{"name":"Michael Chen","eventInfo":{"eventName":"TechConf 2025"}}`, nil
}

func TestEnqueue_Validation(t *testing.T) {
	store := openTestStore(t)

	cases := []struct {
		name string
		p    Payload
	}{
		{"not optical", Payload{Intent: contact.IntentQR, ImagePath: "x.jpg"}},
		{"no image", Payload{Intent: contact.IntentPaperCard}},
		{"both images", Payload{Intent: contact.IntentPaperCard, ImagePath: "x.jpg", ImageBase64: "eA=="}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Enqueue(store, tc.p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, newScanner(store, stubCompleter{text: sarahJSON}), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	id := enqueueTestJob(t, store)
	deadline := time.After(5 * time.Second)
	for {
		job, err := store.GetJob(id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == "completed" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job not processed, status %q", job.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
