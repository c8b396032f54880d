package scan

import (
	"errors"

	"github.com/kalambet/tapping/internal/contact"
)

// ErrScanInProgress is returned when Run is called while another scan on the
// same controller has not finished.
var ErrScanInProgress = errors.New("scan already in progress")

// FailureKind classifies why a scan ended in failure.
type FailureKind int

const (
	FailureInternal FailureKind = iota
	FailureNoData
	FailureClassificationUnknown
	FailureParseMalformed
	FailureExtraction
	FailureTagUnavailable
	FailureProfileLookup
	FailurePersistence
)

func (k FailureKind) String() string {
	switch k {
	case FailureNoData:
		return "no_data"
	case FailureClassificationUnknown:
		return "classification_unknown"
	case FailureParseMalformed:
		return "parse_malformed"
	case FailureExtraction:
		return "extraction_failed"
	case FailureTagUnavailable:
		return "tag_unavailable"
	case FailureProfileLookup:
		return "profile_lookup_failed"
	case FailurePersistence:
		return "persistence_failed"
	}
	return "internal"
}

// User-facing failure reasons.
const (
	ReasonNoData         = "No scan data received"
	ReasonUnsupported    = "Unsupported QR code format"
	ReasonMalformed      = "Could not read the contact card"
	ReasonTagUnavailable = "Could not read the tag. Make sure NFC is enabled and hold your device near the tag."
	ReasonProfileLookup  = "Failed to fetch profile data"
	ReasonPersistence    = "Failed to create contact"
	ReasonInternal       = "Failed to process scan"
)

// Failure is the terminal error of a scan. Reason is safe to show to the
// user. For FailurePersistence, Contact holds the contact that was built
// but not stored.
type Failure struct {
	Kind    FailureKind
	Reason  string
	Contact *contact.Contact
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Reason + ": " + f.Err.Error()
	}
	return f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(kind FailureKind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}
