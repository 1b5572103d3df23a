package store

import (
	"database/sql"
	"time"
)

// UpsertContact inserts or updates a contact. Empty fields never clobber
// previously known values; presence only changes through UpdatePresence.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	if c.Presence == "" {
		c.Presence = "offline"
	}
	_, err := db.Exec(`
		INSERT INTO contacts (contact_id, display_name, avatar_ref, last_seen, presence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			avatar_ref = CASE WHEN excluded.avatar_ref != '' THEN excluded.avatar_ref ELSE contacts.avatar_ref END,
			last_seen = MAX(contacts.last_seen, excluded.last_seen),
			updated_at = excluded.updated_at`,
		c.ContactID, c.DisplayName, c.AvatarRef, c.LastSeen, c.Presence, now)
	return err
}

// GetContact returns a contact by id, or nil if unknown.
func (db *DB) GetContact(contactID string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT contact_id, display_name, avatar_ref, last_seen, presence
		FROM contacts WHERE contact_id = ?`, contactID).
		Scan(&c.ContactID, &c.DisplayName, &c.AvatarRef, &c.LastSeen, &c.Presence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdatePresence records a presence change for a contact.
func (db *DB) UpdatePresence(contactID, presence string, lastSeen int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE contacts SET presence = ?, last_seen = MAX(last_seen, ?), updated_at = ?
		WHERE contact_id = ?`, presence, lastSeen, now, contactID)
	return err
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
