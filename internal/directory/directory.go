// Package directory backs the conversation list screen: the server-side
// listing with a cache fallback, counterpart suggestion for starting new
// threads, and the pending-conversation handoff to the chat screen.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/kariuki-john/remas-mobile/internal/rest"
	"github.com/kariuki-john/remas-mobile/internal/store"
	"go.uber.org/zap"
)

// Directory lists conversations, preferring the server and falling back
// to the session cache when offline.
type Directory struct {
	client *rest.Client
	db     *store.DB
	logger *zap.Logger
}

// New creates a directory over the REST gateway and the session cache.
func New(client *rest.Client, db *store.DB, logger *zap.Logger) *Directory {
	return &Directory{client: client, db: db, logger: logger}
}

// List returns the user's conversations. On a successful fetch the cache
// is refreshed; on failure the cached copy is served instead, flagged via
// fromCache so the UI can show a staleness hint. An empty server list is
// a valid result, not a failure.
func (d *Directory) List(ctx context.Context) (convs []rest.Conversation, fromCache bool, err error) {
	convs, err = d.client.ListConversations(ctx)
	if err == nil {
		d.refreshCache(convs)
		return convs, false, nil
	}

	d.logger.Warn("conversation list fetch failed, serving cache", zap.Error(err))
	cached, cacheErr := d.db.ListConversations(0)
	if cacheErr != nil || len(cached) == 0 {
		return nil, false, fmt.Errorf("list conversations: %w", err)
	}

	convs = make([]rest.Conversation, 0, len(cached))
	for _, c := range cached {
		convs = append(convs, rest.Conversation{
			ID:               rest.ID(c.ID),
			CounterpartName:  c.CounterpartName,
			CounterpartEmail: c.CounterpartEmail,
			UnreadCount:      c.UnreadCount,
			AvatarRef:        c.AvatarRef,
			LastMessageAt:    rest.UnixMillis(c.LastMessageAt),
		})
	}
	return convs, true, nil
}

func (d *Directory) refreshCache(convs []rest.Conversation) {
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		err := d.db.UpsertConversation(&store.Conversation{
			ID:               string(c.ID),
			CounterpartName:  c.CounterpartName,
			CounterpartEmail: strings.ToLower(c.CounterpartEmail),
			UnreadCount:      c.UnreadCount,
			AvatarRef:        c.AvatarRef,
			LastMessageAt:    int64(c.LastMessageAt),
		})
		if err != nil {
			d.logger.Warn("conversation cache refresh failed", zap.Error(err), zap.String("id", string(c.ID)))
		}
	}
}

// Pending describes a conversation that exists only on this device: a
// counterpart was picked but no message has been sent, so the server has
// not assigned a conversation id yet.
type Pending struct {
	CounterpartName  string
	CounterpartEmail string
}

// Start builds the pending context for a suggested counterpart. The id
// arrives with the first send acknowledgment.
func (d *Directory) Start(c rest.Candidate) (Pending, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return Pending{}, fmt.Errorf("start conversation: candidate without email")
	}
	return Pending{CounterpartName: c.Name, CounterpartEmail: email}, nil
}
