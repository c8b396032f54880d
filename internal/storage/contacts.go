package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kalambet/tapping/internal/contact"
)

const contactColumns = `id, name, headline, bio, avatar, cover_image, card_color, contact_info, social_links,
	is_active, notes, tags, meeting_context, last_interaction, created_at, updated_at`

// SaveContact inserts a contact or replaces the stored copy with the same id.
// The original created_at is preserved on replace.
func (s *Store) SaveContact(c contact.Contact) error {
	if c.ID == "" {
		return fmt.Errorf("saving contact: empty id")
	}
	info, err := json.Marshal(c.ContactInfo)
	if err != nil {
		return fmt.Errorf("marshalling contact info: %w", err)
	}
	links := c.SocialLinks
	if links == nil {
		links = []contact.SocialLink{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshalling social links: %w", err)
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, headline = excluded.headline, bio = excluded.bio,
			avatar = excluded.avatar, cover_image = excluded.cover_image, card_color = excluded.card_color,
			contact_info = excluded.contact_info, social_links = excluded.social_links,
			is_active = excluded.is_active, notes = excluded.notes, tags = excluded.tags,
			meeting_context = excluded.meeting_context, last_interaction = excluded.last_interaction,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Headline, c.Bio, c.Avatar, c.CoverImage, c.CardColor, string(info), string(linksJSON),
		boolToInt(c.IsActive), c.Notes, string(tagsJSON), c.MeetingContext, c.LastInteraction, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func scanContact(row rowScanner) (contact.Contact, error) {
	var c contact.Contact
	var info, links, tags string
	var active int
	if err := row.Scan(
		&c.ID, &c.Name, &c.Headline, &c.Bio, &c.Avatar, &c.CoverImage, &c.CardColor, &info, &links,
		&active, &c.Notes, &tags, &c.MeetingContext, &c.LastInteraction, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return contact.Contact{}, err
	}
	c.IsActive = active != 0
	if err := json.Unmarshal([]byte(info), &c.ContactInfo); err != nil {
		return contact.Contact{}, fmt.Errorf("parsing contact_info for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(links), &c.SocialLinks); err != nil {
		return contact.Contact{}, fmt.Errorf("parsing social_links for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return contact.Contact{}, fmt.Errorf("parsing tags for %s: %w", c.ID, err)
	}
	return c, nil
}

// GetContact returns a stored contact by id.
func (s *Store) GetContact(id string) (contact.Contact, error) {
	c, err := scanContact(s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return contact.Contact{}, ErrNotFound
	}
	return c, err
}

// ListContacts returns contacts newest first.
func (s *Store) ListContacts(limit, offset int) ([]contact.Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+contactColumns+` FROM contacts
		ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []contact.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// CountContacts returns the number of stored contacts.
func (s *Store) CountContacts() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&n)
	return n, err
}

// UpdateContactTags replaces a contact's tags and bumps updated_at.
func (s *Store) UpdateContactTags(id string, tags []string, updatedAt int64) error {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}
	res, err := s.db.Exec(`UPDATE contacts SET tags = ?, updated_at = ? WHERE id = ?`, string(tagsJSON), updatedAt, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// DeleteContact removes a contact.
func (s *Store) DeleteContact(id string) error {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// --- Profiles ---

// SaveProfile stores a first-party profile snapshot.
func (s *Store) SaveProfile(p contact.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("saving profile: empty id")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling profile: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO profiles (id, data, is_active, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, is_active = excluded.is_active, updated_at = excluded.updated_at`,
		p.ID, string(data), boolToInt(p.IsActive), p.UpdatedAt,
	)
	return err
}

// GetProfile returns a first-party profile by id.
func (s *Store) GetProfile(id string) (contact.Profile, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM profiles WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return contact.Profile{}, ErrNotFound
	}
	if err != nil {
		return contact.Profile{}, err
	}
	var p contact.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return contact.Profile{}, fmt.Errorf("parsing profile %s: %w", id, err)
	}
	return p, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
