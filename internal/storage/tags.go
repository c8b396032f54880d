package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertTagDevice records that a tag was written. Empty profile id or label
// keep the stored values.
func (s *Store) UpsertTagDevice(tagID, profileID, label string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO tag_devices (tag_id, profile_id, label, writes, first_seen, last_seen) VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(tag_id) DO UPDATE SET
			profile_id = CASE WHEN excluded.profile_id = '' THEN tag_devices.profile_id ELSE excluded.profile_id END,
			label = CASE WHEN excluded.label = '' THEN tag_devices.label ELSE excluded.label END,
			writes = tag_devices.writes + 1,
			last_seen = excluded.last_seen`,
		tagID, profileID, label, ts, ts,
	)
	return err
}

// GetTagDevice returns the mapping for a tag.
func (s *Store) GetTagDevice(tagID string) (TagDevice, error) {
	var d TagDevice
	var first, last string
	err := s.db.QueryRow(`SELECT tag_id, profile_id, label, writes, first_seen, last_seen FROM tag_devices WHERE tag_id = ?`, tagID).
		Scan(&d.TagID, &d.ProfileID, &d.Label, &d.Writes, &first, &last)
	if err == sql.ErrNoRows {
		return TagDevice{}, ErrNotFound
	}
	if err != nil {
		return TagDevice{}, err
	}
	if d.FirstSeen, err = time.Parse(time.RFC3339, first); err != nil {
		return TagDevice{}, fmt.Errorf("parsing first_seen: %w", err)
	}
	if d.LastSeen, err = time.Parse(time.RFC3339, last); err != nil {
		return TagDevice{}, fmt.Errorf("parsing last_seen: %w", err)
	}
	return d, nil
}

// LogTagInteraction appends an audit entry. A missing id or timestamp is filled in.
func (s *Store) LogTagInteraction(i TagInteraction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO tag_interactions (id, tag_id, action, payload_type, device, location, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.TagID, i.Action, i.PayloadType, i.Device, i.Location, i.Error, i.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListTagInteractions returns the audit trail, newest first. An empty tag id
// lists all tags.
func (s *Store) ListTagInteractions(tagID string, limit int) ([]TagInteraction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, tag_id, action, payload_type, device, location, error, created_at FROM tag_interactions`
	args := []any{}
	if tagID != "" {
		query += ` WHERE tag_id = ?`
		args = append(args, tagID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TagInteraction
	for rows.Next() {
		var i TagInteraction
		var createdAt string
		if err := rows.Scan(&i.ID, &i.TagID, &i.Action, &i.PayloadType, &i.Device, &i.Location, &i.Error, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		i.CreatedAt = t
		results = append(results, i)
	}
	return results, rows.Err()
}

// --- Scan history ---

// LogScan records a profile-reference lookup.
func (s *Store) LogScan(profileID, scanType string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO scan_history (id, profile_id, scan_type, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), profileID, scanType, at.UTC().Format(time.RFC3339))
	return err
}

// CountScans returns how many times a profile has been looked up.
func (s *Store) CountScans(profileID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM scan_history WHERE profile_id = ?`, profileID).Scan(&n)
	return n, err
}
