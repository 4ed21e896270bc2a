package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). Live redelivery and history refetch land on
// the same row.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, client_id, sender_email, body, from_me, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			client_id = excluded.client_id,
			body = excluded.body,
			status = excluded.status`,
		m.ConversationID, m.MsgID, m.ClientID, m.SenderEmail, m.Body, m.FromMe, m.Status, m.Timestamp, now)
	return err
}

// ListMessages returns cached messages for a conversation in ascending
// timestamp order, the order the timeline renders.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT rowid_pk, conversation_id, msg_id, client_id, sender_email, body, from_me, status, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, rowid_pk ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RowID, &m.ConversationID, &m.MsgID, &m.ClientID, &m.SenderEmail, &m.Body, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
