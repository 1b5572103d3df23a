package store

import (
	"database/sql"
	"time"
)

const messageColumns = `id, msg_id, contact_id, direction, kind, body, correlation_id, status, timestamp`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.Seq, &m.MsgID, &m.ContactID, &m.Direction, &m.Kind, &m.Body, &m.CorrelationID, &m.Status, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// PutMessage inserts a new message. Messages are created exactly once; the
// ingestor checks for an existing msg_id under the contact lock before
// calling this, and the UNIQUE constraint backstops it.
func (db *DB) PutMessage(m *Message) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (msg_id, contact_id, direction, kind, body, correlation_id, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MsgID, m.ContactID, m.Direction, m.Kind, m.Body, m.CorrelationID, m.Status, m.Timestamp, now)
	if err != nil {
		return err
	}
	m.Seq, _ = res.LastInsertId()
	return nil
}

// GetMessageByID returns a message by its canonical id, or nil if absent.
func (db *DB) GetMessageByID(msgID string) (*Message, error) {
	return scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE msg_id = ?`, msgID))
}

// GetMessageByCorrelationID returns the message whose correlation id matches,
// or nil. Providers sometimes echo status updates under a secondary id.
func (db *DB) GetMessageByCorrelationID(cid string) (*Message, error) {
	if cid == "" {
		return nil, nil
	}
	return scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE correlation_id = ?`, cid))
}

// ListMessages returns messages for a contact using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(contactID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE contact_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, contactID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.MsgID, &m.ContactID, &m.Direction, &m.Kind, &m.Body, &m.CorrelationID, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus sets the stored status of one message.
func (db *DB) UpdateMessageStatus(msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, status, msgID)
	return err
}

// DeleteMessage removes a message. Returns false if no row matched.
func (db *DB) DeleteMessage(msgID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE msg_id = ?`, msgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkThreadRead transitions every unread inbound message of a contact to
// read in one statement and returns the number of rows changed.
func (db *DB) MarkThreadRead(contactID string) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET status = 'read'
		WHERE contact_id = ? AND direction = ? AND status != 'read'`,
		contactID, DirectionInbound)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SearchMessages returns messages whose body matches the query, newest first.
// contactID narrows the search to one thread when non-empty.
func (db *DB) SearchMessages(query, contactID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE body LIKE '%' || ? || '%'`
	args := []any{query}
	if contactID != "" {
		q += ` AND contact_id = ?`
		args = append(args, contactID)
	}
	q += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.MsgID, &m.ContactID, &m.Direction, &m.Kind, &m.Body, &m.CorrelationID, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestMessage returns the newest message for a contact, or nil.
func (db *DB) LatestMessage(contactID string) (*Message, error) {
	return scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE contact_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`, contactID))
}

// CountUnread counts inbound messages not yet read for a contact. This is
// the authoritative form of the unread predicate; the conversation
// aggregate caches it and must agree with it at any quiescent point.
func (db *DB) CountUnread(contactID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE contact_id = ? AND direction = ? AND status != 'read'`,
		contactID, DirectionInbound).Scan(&n)
	return n, err
}

// ListContactIDs returns every contact id present in the message log.
func (db *DB) ListContactIDs() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT contact_id FROM messages`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
