package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TagDevice maps a physical tag to what was last written to it.
type TagDevice struct {
	TagID     string
	ProfileID string
	Label     string
	Writes    int
	FirstSeen time.Time
	LastSeen  time.Time
}

// TagInteraction is one audit entry for a tag read or write.
type TagInteraction struct {
	ID          string
	TagID       string
	Action      string // "read", "write"
	PayloadType string
	Device      string
	Location    string
	Error       string
	CreatedAt   time.Time
}

// ScanEvent records a profile-reference lookup.
type ScanEvent struct {
	ID        string
	ProfileID string
	ScanType  string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	ResultJSON  string
}
