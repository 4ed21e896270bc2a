// Package sync keeps the session cache warm: it subscribes to message
// events on the bus and ingests them into the store idempotently. The
// server stays authoritative; the cache only has to be good enough for
// an instant first paint.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/channel"
	"github.com/kariuki-john/remas-mobile/internal/rest"
	"github.com/kariuki-john/remas-mobile/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of messages into the cache.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	self   func() string
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a sync engine. self returns the local user's email
// (empty when logged out) and decides the from_me flag on ingested rows.
func NewEngine(db *store.DB, b *bus.Bus, self func() string, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		self:   self,
		logger: logger,
	}
}

// Start subscribes to message events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("message.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageReceived:
		d, ok := evt.Payload.(*channel.Delivery)
		if !ok {
			return
		}
		if err := e.IngestDelivery(d); err != nil {
			e.logger.Error("failed to ingest delivery", zap.Error(err), zap.String("msg_id", string(d.ID)))
		}
		// Unread counts may have moved; let the badge aggregator decide.
		e.bus.Emit(bus.KindBadgeDirty, nil)

	case bus.KindMessageSendAck:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestSent(msg); err != nil {
			e.logger.Error("failed to ingest sent message", zap.Error(err), zap.String("msg_id", msg.MsgID))
		}
	}
}

// IngestDelivery persists a live-channel message and bumps its
// conversation's recency. Deliveries for conversations the server has not
// assigned an id yet are skipped; the next history fetch picks them up.
func (e *Engine) IngestDelivery(d *channel.Delivery) error {
	convID := string(d.ConversationID)
	if convID == "" || d.ID == "" {
		return nil
	}

	sender := strings.ToLower(d.SenderEmail)
	fromMe := sender != "" && sender == strings.ToLower(e.self())

	if err := e.db.TouchConversation(convID, sender, int64(d.Timestamp)); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := e.db.UpsertMessage(&store.Message{
		ConversationID: convID,
		MsgID:          string(d.ID),
		ClientID:       d.ClientID,
		SenderEmail:    sender,
		Body:           d.Body,
		FromMe:         fromMe,
		Status:         "sent",
		Timestamp:      int64(d.Timestamp),
	}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestSent persists a message the server has acknowledged.
func (e *Engine) IngestSent(msg *store.Message) error {
	if msg.ConversationID == "" || msg.MsgID == "" {
		return nil
	}
	if err := e.db.TouchConversation(msg.ConversationID, "", msg.Timestamp); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestHistory caches a fetched history page in one transaction. Called
// after every successful history fetch so the cache converges on the
// server's view.
func (e *Engine) IngestHistory(conversationID string, msgs []rest.Message) error {
	if conversationID == "" || len(msgs) == 0 {
		return nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	self := strings.ToLower(e.self())
	now := time.Now().UnixMilli()
	var latest int64

	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		sender := strings.ToLower(m.SenderEmail)
		ts := int64(m.Timestamp)
		if ts > latest {
			latest = ts
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, client_id, sender_email, body, from_me, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				client_id = excluded.client_id,
				body = excluded.body,
				status = excluded.status`,
			conversationID, string(m.ID), m.ClientID, sender, m.Body, self != "" && sender == self, "sent", ts, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if latest > 0 {
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, counterpart_email, last_message_at, updated_at)
			VALUES (?, '', ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
				updated_at = excluded.updated_at`,
			conversationID, latest, now); err != nil {
			return fmt.Errorf("touch conversation in batch: %w", err)
		}
	}

	return tx.Commit()
}
