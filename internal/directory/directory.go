// Package directory resolves first-party profile references with a short
// in-memory cache in front of storage.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/storage"
)

// ErrProfileNotFound is returned when no profile exists for an id.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileStore defines the storage operations the Directory needs.
// Implemented by storage.Store.
type ProfileStore interface {
	GetProfile(id string) (contact.Profile, error)
	SaveProfile(p contact.Profile) error
	LogScan(profileID, scanType string, at time.Time) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	profile  contact.Profile
	cachedAt time.Time
}

// Directory provides cached access to published profiles.
type Directory struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]entry
}

// New creates a Directory with a 60-second cache TTL.
func New(store ProfileStore) *Directory {
	return NewWithClock(store, realClock{}, 60*time.Second)
}

// NewWithClock creates a Directory with a custom clock (for testing).
func NewWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Directory {
	return &Directory{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]entry),
	}
}

// Resolve returns the profile for id and records the lookup in scan history.
// Inactive profiles are reported as not found.
func (d *Directory) Resolve(ctx context.Context, id, scanType string) (contact.Profile, error) {
	if err := ctx.Err(); err != nil {
		return contact.Profile{}, err
	}
	p, err := d.lookup(id)
	if err != nil {
		return contact.Profile{}, err
	}
	if !p.IsActive {
		return contact.Profile{}, fmt.Errorf("%w: %s is inactive", ErrProfileNotFound, id)
	}
	if err := d.store.LogScan(id, scanType, d.clock.Now()); err != nil {
		slog.Warn("recording profile scan failed", "profile", id, "error", err)
	}
	return p, nil
}

func (d *Directory) lookup(id string) (contact.Profile, error) {
	// Fast path: read lock for cache hit.
	d.mu.RLock()
	if e, ok := d.cache[id]; ok && d.fresh(e) {
		p := copyProfile(e.profile)
		d.mu.RUnlock()
		return p, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := d.cache[id]; ok && d.fresh(e) {
		return copyProfile(e.profile), nil
	}

	p, err := d.store.GetProfile(id)
	if errors.Is(err, storage.ErrNotFound) {
		return contact.Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if err != nil {
		return contact.Profile{}, fmt.Errorf("loading profile %s: %w", id, err)
	}
	d.cache[id] = entry{profile: p, cachedAt: d.clock.Now()}
	return copyProfile(p), nil
}

func (d *Directory) fresh(e entry) bool {
	return d.clock.Now().Before(e.cachedAt.Add(d.ttl))
}

// Publish stores a profile so that references to it resolve, and
// invalidates its cache entry. Missing timestamps are filled in.
func (d *Directory) Publish(p contact.Profile) error {
	if p.ID == "" {
		return errors.New("publishing profile: empty id")
	}
	now := d.clock.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	if p.UpdatedAt < p.CreatedAt {
		p.UpdatedAt = p.CreatedAt
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.SaveProfile(p); err != nil {
		return fmt.Errorf("saving profile %s: %w", p.ID, err)
	}
	delete(d.cache, p.ID)
	return nil
}

func copyProfile(p contact.Profile) contact.Profile {
	cp := p
	if p.SocialLinks != nil {
		cp.SocialLinks = make([]contact.SocialLink, len(p.SocialLinks))
		copy(cp.SocialLinks, p.SocialLinks)
	}
	return cp
}

// DemoProfiles are the sample profiles published by "tapping profiles seed".
var DemoProfiles = []contact.Profile{
	{
		ID:       "john-doe",
		Name:     "John Doe",
		Headline: "Senior Software Engineer",
		Bio:      "Full-stack developer with 8+ years of experience building scalable web applications.",
		ContactInfo: contact.ContactInfo{
			Email:    "john.doe@techcorp.com",
			Phone:    "+1 (555) 123-4567",
			Company:  "TechCorp Solutions",
			Position: "Senior Software Engineer",
		},
		SocialLinks: []contact.SocialLink{
			{ID: "1", Platform: contact.PlatformLinkedIn, URL: "https://linkedin.com/in/johndoe", Username: "johndoe"},
			{ID: "2", Platform: contact.PlatformGitHub, URL: "https://github.com/johndoe", Username: "johndoe"},
		},
		IsActive: true,
	},
	{
		ID:       "sample",
		Name:     "Alex Rivera",
		Headline: "Product Designer",
		Bio:      "Passionate about creating user-centered designs that solve real problems.",
		ContactInfo: contact.ContactInfo{
			Email:    "alex.rivera@designstudio.com",
			Phone:    "+1 (555) 987-6543",
			Company:  "Design Studio",
			Position: "Senior Product Designer",
		},
		SocialLinks: []contact.SocialLink{
			{ID: "1", Platform: contact.PlatformLinkedIn, URL: "https://linkedin.com/in/alexrivera", Username: "alexrivera"},
			{ID: "2", Platform: contact.PlatformWebsite, URL: "https://alexrivera.design"},
		},
		IsActive: true,
	},
}
