// Package channel owns the persistent bidirectional connection used for
// low-latency message delivery and typing signals. It complements the
// REST history/send path: delivery during a disconnected window is not
// guaranteed, and the next history fetch is the consistency backstop.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/identity"
	"go.uber.org/zap"
)

// State is the connection lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Joined       State = "JOINED"
)

// validTransitions defines allowed state transitions. There is no
// automatic reconnect: a fresh screen mount re-opens from Disconnected.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Joined, Disconnected},
	Joined:       {Disconnected},
}

// Session scopes one open connection: the local identity, the counterpart
// being talked to and the conversation id (empty for a pending
// conversation that has not been persisted yet).
type Session struct {
	LocalEmail       string
	CounterpartEmail string
	ConversationID   string
}

// RoomName returns the symmetric delivery room for two participants:
// lowercase both emails, order them canonically, join with "|". Either
// party computes the same name regardless of who initiates.
func RoomName(a, b string) string {
	pair := []string{strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))}
	slices.Sort(pair)
	return pair[0] + "|" + pair[1]
}

// Manager maintains at most one live connection, owned by the currently
// mounted chat screen. Close-before-reopen is a hard invariant: opening
// while a prior connection exists closes it first, otherwise the leaked
// socket double-delivers every message.
type Manager struct {
	endpoint string
	tokens   identity.TokenSource
	bus      *bus.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	sess    Session
	typing  *TypingEmitter
}

// NewManager creates a manager dialing the given websocket endpoint.
func NewManager(endpoint string, tokens identity.TokenSource, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		endpoint: endpoint,
		tokens:   tokens,
		bus:      b,
		logger:   logger,
		state:    Disconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open establishes the connection for a chat session. Any prior
// connection is closed first. Requires a resolved local identity; callers
// must never open a channel for a logged-out user.
func (m *Manager) Open(ctx context.Context, sess Session) error {
	if sess.LocalEmail == "" {
		return fmt.Errorf("open channel: no local identity")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Close before reopen, always.
	m.closeLocked()

	if err := m.transitionLocked(Connecting); err != nil {
		return err
	}

	u, err := url.Parse(m.endpoint)
	if err != nil {
		m.state = Disconnected
		return fmt.Errorf("channel endpoint: %w", err)
	}
	q := u.Query()
	q.Set("email", strings.ToLower(sess.LocalEmail))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if tok := m.tokens.Token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		m.state = Disconnected
		return fmt.Errorf("dial channel: %w", err)
	}

	// Announce intent to join the user-scoped room immediately after the
	// handshake, then the symmetric delivery room.
	join := joinFrame{
		Event: eventJoin,
		Data: joinPayload{
			Email: strings.ToLower(sess.LocalEmail),
			Room:  RoomName(sess.LocalEmail, sess.CounterpartEmail),
		},
	}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		m.state = Disconnected
		return fmt.Errorf("join room: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.conn = conn
	m.cancel = cancel
	m.sess = sess
	m.typing = NewTypingEmitter(TypingIdleWindow, func(active bool) {
		m.sendTyping(sess, active)
	})
	if err := m.transitionLocked(Joined); err != nil {
		// Unreachable with the current table; close defensively.
		_ = conn.Close()
		m.state = Disconnected
		return err
	}

	go m.readLoop(runCtx, conn, sess)

	m.logger.Info("channel joined",
		zap.String("room", RoomName(sess.LocalEmail, sess.CounterpartEmail)),
		zap.String("conversation_id", sess.ConversationID))
	return nil
}

// Close tears the connection down. Idempotent; called on screen unmount,
// identity change and navigation to another conversation.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if m.typing != nil {
		m.typing.Cancel()
		m.typing = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		m.bus.Emit(bus.KindChannelClosed, m.sess)
	}
	m.state = Disconnected
}

func (m *Manager) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[m.state], to) {
		return fmt.Errorf("invalid channel transition from %s to %s", m.state, to)
	}
	m.state = to
	return nil
}

// Keystroke signals local typing activity: an immediate typing event on
// the first keystroke and a stop-typing event after the idle window.
func (m *Manager) Keystroke() {
	m.mu.Lock()
	typing := m.typing
	m.mu.Unlock()
	if typing != nil {
		typing.Keystroke()
	}
}

func (m *Manager) sendTyping(sess Session, active bool) {
	event := eventTyping
	if !active {
		event = eventStopTyping
	}
	frame := typingFrame{
		Event: event,
		Data: typingPayload{
			SenderEmail:    strings.ToLower(sess.LocalEmail),
			ConversationID: sess.ConversationID,
			Room:           RoomName(sess.LocalEmail, sess.CounterpartEmail),
		},
	}
	if err := m.writeJSON(frame); err != nil {
		m.logger.Warn("typing signal dropped", zap.Error(err))
	}
}

func (m *Manager) writeJSON(v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("channel not open")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop consumes frames until the connection drops or the session is
// cancelled. Errors degrade to REST-only behavior; they never crash the
// screen.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, sess Session) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("channel read failed, degrading to REST-only", zap.Error(err))
				m.Close()
			}
			return
		}

		frame, err := parseFrame(raw)
		if err != nil {
			m.logger.Warn("malformed channel frame skipped", zap.Error(err))
			continue
		}

		switch frame.Event {
		case eventMessage:
			delivery, err := parseDelivery(frame.Data)
			if err != nil {
				m.logger.Warn("malformed delivery skipped", zap.Error(err))
				continue
			}
			m.bus.Emit(bus.KindMessageReceived, delivery)

		case eventTyping, eventStopTyping:
			payload, err := parseTyping(frame.Data)
			if err != nil {
				continue
			}
			// Ignore stale signals from a previous screen's counterpart.
			if !strings.EqualFold(payload.SenderEmail, sess.CounterpartEmail) {
				continue
			}
			kind := bus.KindTypingStarted
			if frame.Event == eventStopTyping {
				kind = bus.KindTypingStopped
			}
			m.bus.Emit(kind, payload)

		default:
			m.logger.Debug("unhandled channel event", zap.String("event", frame.Event))
		}
	}
}
