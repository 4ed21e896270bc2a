// Package chat composes one open conversation: timeline state, the live
// channel, optimistic sends over REST and typing signals, wired together
// the way the chat screen consumes them.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/channel"
	"github.com/kariuki-john/remas-mobile/internal/rest"
	"github.com/kariuki-john/remas-mobile/internal/store"
	msgsync "github.com/kariuki-john/remas-mobile/internal/sync"
	"github.com/kariuki-john/remas-mobile/internal/timeline"
	"go.uber.org/zap"
)

// tailThreshold is how close to the bottom the reader must be for new
// messages to scroll into view.
const tailThreshold = 3

// Conversation identifies what the screen is opened on. ID is empty for
// a pending conversation started from a suggestion; it is adopted from
// the first send acknowledgment.
type Conversation struct {
	ID               string
	CounterpartName  string
	CounterpartEmail string
}

// Screen drives a single mounted chat view.
type Screen struct {
	client     *rest.Client
	channel    *channel.Manager
	bus        *bus.Bus
	syncer     *msgsync.Engine
	db         *store.DB
	localEmail string
	logger     *zap.Logger

	mu      sync.Mutex
	tl      *timeline.Timeline
	tail    *timeline.TailTracker
	conv    Conversation
	typing  channel.TypingState
	mounted bool
	cancel  context.CancelFunc
}

// NewScreen creates an unmounted screen for the given local identity.
// syncer and db are optional; without them history pages are neither
// cached nor served from cache when offline.
func NewScreen(client *rest.Client, ch *channel.Manager, b *bus.Bus, syncer *msgsync.Engine, db *store.DB, localEmail string, logger *zap.Logger) *Screen {
	return &Screen{
		client:     client,
		channel:    ch,
		bus:        b,
		syncer:     syncer,
		db:         db,
		localEmail: strings.ToLower(localEmail),
		logger:     logger,
	}
}

// Mount opens the screen on a conversation: fetch history (skipped for a
// pending conversation, which has none), open the live channel, and start
// applying bus events to the timeline. Mounting again remounts cleanly;
// the channel manager guarantees the old connection dies first.
func (s *Screen) Mount(ctx context.Context, conv Conversation) error {
	if s.localEmail == "" {
		return fmt.Errorf("mount chat: no local identity")
	}
	conv.CounterpartEmail = strings.ToLower(conv.CounterpartEmail)

	s.Unmount()

	tl := timeline.New(s.localEmail)
	if conv.ID != "" {
		msgs, err := s.client.ConversationMessages(ctx, rest.ID(conv.ID))
		if err != nil {
			s.logger.Warn("history fetch failed, serving cache", zap.Error(err), zap.String("conversation_id", conv.ID))
			tl.LoadHistory(s.cachedHistory(conv.ID))
		} else {
			tl.LoadHistory(s.toTimeline(msgs, conv.ID))
			if s.syncer != nil {
				if err := s.syncer.IngestHistory(conv.ID, msgs); err != nil {
					s.logger.Warn("history cache write failed", zap.Error(err))
				}
			}
		}
	}

	if err := s.channel.Open(ctx, channel.Session{
		LocalEmail:       s.localEmail,
		CounterpartEmail: conv.CounterpartEmail,
		ConversationID:   conv.ID,
	}); err != nil {
		// REST-only mode: sends and history still work.
		s.logger.Warn("live channel unavailable, running REST-only", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	events, unsub := s.bus.Subscribe("", 256)

	s.mu.Lock()
	s.tl = tl
	s.tail = timeline.NewTailTracker(tailThreshold)
	s.conv = conv
	s.typing = channel.TypingState{}
	s.mounted = true
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				s.handleEvent(evt)
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Unmount tears the screen down: stop the event loop and close the
// channel. Idempotent.
func (s *Screen) Unmount() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mounted = false
	s.mu.Unlock()
	s.channel.Close()
}

// Conversation returns the current conversation, including a server id
// adopted after the first send on a pending conversation.
func (s *Screen) Conversation() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Messages returns the rendered timeline.
func (s *Screen) Messages() []timeline.Message {
	s.mu.Lock()
	tl := s.tl
	s.mu.Unlock()
	if tl == nil {
		return nil
	}
	return tl.Messages()
}

// CounterpartTyping reports whether the counterpart's typing indicator is
// currently on.
func (s *Screen) CounterpartTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.Active()
}

// Scrolled records the view's distance from the newest message, feeding
// the follow-the-tail decision.
func (s *Screen) Scrolled(distanceFromBottom int) {
	s.mu.Lock()
	tail := s.tail
	s.mu.Unlock()
	if tail != nil {
		tail.Scrolled(distanceFromBottom)
	}
}

// ShouldFollow reports whether new messages should scroll into view.
func (s *Screen) ShouldFollow() bool {
	s.mu.Lock()
	tail := s.tail
	s.mu.Unlock()
	return tail == nil || tail.ShouldFollow()
}

// Keystroke forwards local typing activity to the live channel.
func (s *Screen) Keystroke() {
	s.channel.Keystroke()
}

// Send appends an optimistic entry, posts the message, and reconciles the
// acknowledgment. On failure the entry flips to failed and stays visible
// for retry; it never disappears.
func (s *Screen) Send(ctx context.Context, body string) (timeline.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return timeline.Message{}, fmt.Errorf("send: empty message")
	}

	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return timeline.Message{}, fmt.Errorf("send: screen not mounted")
	}
	tl, conv := s.tl, s.conv
	s.mu.Unlock()

	pending := tl.AppendOptimistic(conv.ID, body)
	return s.post(ctx, tl, pending, conv)
}

// Retry re-sends a failed entry, flipping it back to pending first.
func (s *Screen) Retry(ctx context.Context, clientID string) (timeline.Message, error) {
	s.mu.Lock()
	tl, conv := s.tl, s.conv
	s.mu.Unlock()
	if tl == nil {
		return timeline.Message{}, fmt.Errorf("retry: screen not mounted")
	}

	pending, ok := tl.Retry(clientID)
	if !ok {
		return timeline.Message{}, fmt.Errorf("retry: no failed message with client id %s", clientID)
	}
	return s.post(ctx, tl, pending, conv)
}

func (s *Screen) post(ctx context.Context, tl *timeline.Timeline, pending timeline.Message, conv Conversation) (timeline.Message, error) {
	ack, err := s.client.SendMessage(ctx, pending.Body, conv.CounterpartEmail, pending.ClientID)
	if err != nil {
		tl.MarkFailed(pending.ClientID)
		s.bus.Emit(bus.KindMessageSendFailed, pending.ClientID)
		return timeline.Message{}, fmt.Errorf("send message: %w", err)
	}

	clientID := ack.ClientID
	if clientID == "" {
		clientID = pending.ClientID
	}
	ts := int64(ack.Timestamp)
	if ts == 0 {
		ts = pending.Timestamp
	}
	confirmed, _ := tl.Reconcile(timeline.Message{
		ServerID:       string(ack.ID),
		ClientID:       clientID,
		ConversationID: string(ack.ConversationID),
		Body:           pending.Body,
		SenderEmail:    s.localEmail,
		Mine:           true,
		Timestamp:      ts,
		State:          timeline.StateSent,
	})

	// First send on a pending conversation: adopt the server's id.
	if conv.ID == "" && ack.ConversationID != "" {
		s.mu.Lock()
		if s.conv.CounterpartEmail == conv.CounterpartEmail {
			s.conv.ID = string(ack.ConversationID)
		}
		s.mu.Unlock()
	}

	s.bus.Emit(bus.KindMessageSendAck, &store.Message{
		ConversationID: string(ack.ConversationID),
		MsgID:          string(ack.ID),
		ClientID:       confirmed.ClientID,
		SenderEmail:    s.localEmail,
		Body:           confirmed.Body,
		FromMe:         true,
		Status:         string(timeline.StateSent),
		Timestamp:      confirmed.Timestamp,
	})
	return confirmed, nil
}

// cachedHistory serves previously synced messages when the network is
// down. Best effort; an empty timeline is the floor, not an error.
func (s *Screen) cachedHistory(conversationID string) []timeline.Message {
	if s.db == nil {
		return nil
	}
	rows, err := s.db.ListMessages(conversationID, 0)
	if err != nil {
		s.logger.Warn("history cache read failed", zap.Error(err))
		return nil
	}
	out := make([]timeline.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, timeline.Message{
			ServerID:       r.MsgID,
			ClientID:       r.ClientID,
			ConversationID: r.ConversationID,
			Body:           r.Body,
			SenderEmail:    r.SenderEmail,
			Mine:           r.FromMe,
			Timestamp:      r.Timestamp,
			State:          timeline.StateSent,
		})
	}
	return out
}

func (s *Screen) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageReceived:
		d, ok := evt.Payload.(*channel.Delivery)
		if !ok || !s.forThisConversation(d) {
			return
		}
		s.mu.Lock()
		tl := s.tl
		s.mu.Unlock()
		if tl == nil {
			return
		}
		sender := strings.ToLower(d.SenderEmail)
		tl.Reconcile(timeline.Message{
			ServerID:       string(d.ID),
			ClientID:       d.ClientID,
			ConversationID: string(d.ConversationID),
			Body:           d.Body,
			SenderEmail:    sender,
			Mine:           sender == s.localEmail,
			Timestamp:      int64(d.Timestamp),
			State:          timeline.StateSent,
		})
		// The counterpart spoke: their typing indicator is over.
		s.mu.Lock()
		s.typing.Set(false)
		s.mu.Unlock()

	case bus.KindTypingStarted, bus.KindTypingStopped:
		sig, ok := evt.Payload.(channel.TypingSignal)
		if !ok {
			return
		}
		s.mu.Lock()
		if strings.EqualFold(sig.SenderEmail, s.conv.CounterpartEmail) {
			s.typing.Set(evt.Kind == bus.KindTypingStarted)
		}
		s.mu.Unlock()
	}
}

// forThisConversation filters cross-talk: deliveries carrying another
// conversation's id, or from someone other than the counterpart when the
// conversation is still pending, belong to a different screen.
func (s *Screen) forThisConversation(d *channel.Delivery) bool {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()

	if conv.ID != "" && string(d.ConversationID) != "" {
		return string(d.ConversationID) == conv.ID
	}
	sender := strings.ToLower(d.SenderEmail)
	return sender == conv.CounterpartEmail || sender == s.localEmail
}

func (s *Screen) toTimeline(msgs []rest.Message, conversationID string) []timeline.Message {
	out := make([]timeline.Message, 0, len(msgs))
	for _, m := range msgs {
		sender := strings.ToLower(m.SenderEmail)
		id := string(m.ConversationID)
		if id == "" {
			id = conversationID
		}
		out = append(out, timeline.Message{
			ServerID:       string(m.ID),
			ClientID:       m.ClientID,
			ConversationID: id,
			Body:           m.Body,
			SenderEmail:    sender,
			Mine:           sender == s.localEmail,
			Timestamp:      int64(m.Timestamp),
			State:          timeline.StateSent,
		})
	}
	return out
}
