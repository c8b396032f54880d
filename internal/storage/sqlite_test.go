package storage

import (
	"errors"
	"testing"

	"github.com/kalambet/tapping/internal/contact"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_contacts_created", "idx_tag_interactions_tag", "idx_scan_history_profile", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func sampleContact(id string, createdAt int64) contact.Contact {
	return contact.Contact{
		Profile: contact.Profile{
			ID:       id,
			Name:     "John Smith",
			Headline: "Software Engineer",
			ContactInfo: contact.ContactInfo{
				Email:    "john.smith@techcorp.com",
				Phone:    "+1-555-123-4567",
				Company:  "Tech Corp",
				Position: "Software Engineer",
			},
			SocialLinks: []contact.SocialLink{
				{ID: "l1", Platform: contact.PlatformWebsite, URL: "https://techcorp.com"},
			},
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		},
		Tags:            []string{"Tech Corp"},
		MeetingContext:  "Imported from vCard",
		LastInteraction: createdAt,
	}
}

func TestSaveAndGetContact(t *testing.T) {
	s := openTestStore(t)

	want := sampleContact("c1", 1700000000000)
	if err := s.SaveContact(want); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}

	got, err := s.GetContact("c1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.Name != want.Name {
		t.Errorf("Name = %q, want %q", got.Name, want.Name)
	}
	if got.ContactInfo != want.ContactInfo {
		t.Errorf("ContactInfo = %+v, want %+v", got.ContactInfo, want.ContactInfo)
	}
	if len(got.SocialLinks) != 1 || got.SocialLinks[0].Platform != contact.PlatformWebsite {
		t.Errorf("SocialLinks = %+v", got.SocialLinks)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "Tech Corp" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.CreatedAt != want.CreatedAt || got.LastInteraction != want.LastInteraction {
		t.Errorf("timestamps = %d/%d, want %d", got.CreatedAt, got.LastInteraction, want.CreatedAt)
	}
}

func TestSaveContact_UpsertKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)

	c := sampleContact("c1", 1000)
	if err := s.SaveContact(c); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}
	c.Name = "John A. Smith"
	c.CreatedAt = 5000
	c.UpdatedAt = 5000
	if err := s.SaveContact(c); err != nil {
		t.Fatalf("SaveContact again: %v", err)
	}

	got, err := s.GetContact("c1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.Name != "John A. Smith" {
		t.Errorf("Name = %q, want updated name", got.Name)
	}
	if got.CreatedAt != 1000 {
		t.Errorf("CreatedAt = %d, want 1000", got.CreatedAt)
	}
	if got.UpdatedAt != 5000 {
		t.Errorf("UpdatedAt = %d, want 5000", got.UpdatedAt)
	}
}

func TestSaveContact_EmptyID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveContact(contact.Contact{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestGetContactNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetContact("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListContacts_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.SaveContact(sampleContact(id, int64(1000*(i+1)))); err != nil {
			t.Fatalf("SaveContact %s: %v", id, err)
		}
	}

	got, err := s.ListContacts(2, 0)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("order = [%s %s], want [new mid]", got[0].ID, got[1].ID)
	}

	rest, err := s.ListContacts(2, 2)
	if err != nil {
		t.Fatalf("ListContacts offset: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "old" {
		t.Errorf("offset page = %+v", rest)
	}

	n, err := s.CountContacts()
	if err != nil {
		t.Fatalf("CountContacts: %v", err)
	}
	if n != 3 {
		t.Errorf("CountContacts = %d, want 3", n)
	}
}

func TestUpdateContactTags(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveContact(sampleContact("c1", 1000)); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}
	if err := s.UpdateContactTags("c1", []string{"conference", "conference"}, 2000); err != nil {
		t.Fatalf("UpdateContactTags: %v", err)
	}
	got, err := s.GetContact("c1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags = %v, want duplicates preserved", got.Tags)
	}
	if got.UpdatedAt != 2000 {
		t.Errorf("UpdatedAt = %d, want 2000", got.UpdatedAt)
	}

	if err := s.UpdateContactTags("missing", nil, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteContact(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveContact(sampleContact("c1", 1000)); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}
	if err := s.DeleteContact("c1"); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if _, err := s.GetContact("c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContact after delete: err = %v", err)
	}
	if err := s.DeleteContact("c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)

	p := contact.Profile{
		ID:          "john-doe",
		Name:        "John Doe",
		Headline:    "Founder",
		ContactInfo: contact.ContactInfo{Email: "john@doe.dev"},
		IsActive:    true,
		CreatedAt:   1,
		UpdatedAt:   2,
	}
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	got, err := s.GetProfile("john-doe")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Name != p.Name || got.ContactInfo.Email != p.ContactInfo.Email || !got.IsActive {
		t.Errorf("GetProfile = %+v, want %+v", got, p)
	}

	if _, err := s.GetProfile("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
