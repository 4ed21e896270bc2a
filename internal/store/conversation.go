package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a cached conversation.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, counterpart_name, counterpart_email, unread_count, avatar_ref, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counterpart_name = excluded.counterpart_name,
			counterpart_email = excluded.counterpart_email,
			unread_count = excluded.unread_count,
			avatar_ref = excluded.avatar_ref,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.ID, c.CounterpartName, c.CounterpartEmail, c.UnreadCount, c.AvatarRef, c.LastMessageAt, now)
	return err
}

// TouchConversation bumps last_message_at for a conversation, creating the
// row if the first thing the client ever saw for it was a live message.
func (db *DB) TouchConversation(id, counterpartEmail string, lastMessageAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, counterpart_email, last_message_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		id, counterpartEmail, lastMessageAt, now)
	return err
}

// ListConversations returns cached conversations by recency.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, counterpart_name, counterpart_email, unread_count, avatar_ref, last_message_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CounterpartName, &c.CounterpartEmail, &c.UnreadCount, &c.AvatarRef, &c.LastMessageAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single cached conversation, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, counterpart_name, counterpart_email, unread_count, avatar_ref, last_message_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.CounterpartName, &c.CounterpartEmail, &c.UnreadCount, &c.AvatarRef, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
