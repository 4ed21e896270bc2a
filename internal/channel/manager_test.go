package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/identity"
	"go.uber.org/zap"
)

// testChannelServer accepts websocket connections, records join frames
// and connection counts, and lets tests push frames to the newest client.
type testChannelServer struct {
	t *testing.T

	mu        sync.Mutex
	joins     []joinPayload
	active    int
	maxActive int
	total     int
	latest    *websocket.Conn
}

func newTestChannelServer(t *testing.T) (*testChannelServer, string) {
	t.Helper()
	s := &testChannelServer{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.active++
		s.total++
		if s.active > s.maxActive {
			s.maxActive = s.active
		}
		s.latest = conn
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			_ = conn.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			if f.Event == eventJoin {
				var jp joinPayload
				_ = json.Unmarshal(f.Data, &jp)
				s.mu.Lock()
				s.joins = append(s.joins, jp)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(srv.Close)

	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *testChannelServer) push(t *testing.T, frame any) {
	t.Helper()
	s.mu.Lock()
	conn := s.latest
	s.mu.Unlock()
	if conn == nil {
		t.Fatal("no connected client to push to")
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
}

func (s *testChannelServer) waitJoin(t *testing.T) joinPayload {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.joins) > 0 {
			jp := s.joins[len(s.joins)-1]
			s.mu.Unlock()
			return jp
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for join frame")
	return joinPayload{}
}

func testManager(t *testing.T, endpoint string, b *bus.Bus) *Manager {
	t.Helper()
	tokens := identity.TokenFunc(func() string { return "tok" })
	return NewManager(endpoint, tokens, b, zap.NewNop())
}

func TestRoomNameSymmetric(t *testing.T) {
	got := RoomName("B@X.com", "a@x.com")
	want := "a@x.com|b@x.com"
	if got != want {
		t.Errorf("RoomName = %q, want %q", got, want)
	}
	if RoomName("a@x.com", "b@x.com") != RoomName("b@x.com", "a@x.com") {
		t.Error("room name must not depend on who initiates")
	}
}

func TestOpenJoinsUserRoom(t *testing.T) {
	srv, wsURL := newTestChannelServer(t)
	m := testManager(t, wsURL, bus.New())
	defer m.Close()

	sess := Session{LocalEmail: "A@x.com", CounterpartEmail: "b@x.com", ConversationID: "42"}
	if err := m.Open(context.Background(), sess); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if m.State() != Joined {
		t.Errorf("state = %s, want JOINED", m.State())
	}

	jp := srv.waitJoin(t)
	if jp.Email != "a@x.com" {
		t.Errorf("join email = %q, want lowercased a@x.com", jp.Email)
	}
	if jp.Room != "a@x.com|b@x.com" {
		t.Errorf("join room = %q, want canonical a@x.com|b@x.com", jp.Room)
	}
}

func TestOpenRequiresIdentity(t *testing.T) {
	_, wsURL := newTestChannelServer(t)
	m := testManager(t, wsURL, bus.New())

	err := m.Open(context.Background(), Session{CounterpartEmail: "b@x.com"})
	if err == nil {
		t.Fatal("Open() without local identity should fail")
	}
	if m.State() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

// TestCloseBeforeReopen is the connection-hygiene invariant: mounting a
// chat screen twice in sequence never leaves more than one live
// connection. The leaked-socket variant double-delivered every message.
func TestCloseBeforeReopen(t *testing.T) {
	srv, wsURL := newTestChannelServer(t)
	m := testManager(t, wsURL, bus.New())
	defer m.Close()

	sess := Session{LocalEmail: "a@x.com", CounterpartEmail: "b@x.com"}
	if err := m.Open(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	if err := m.Open(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	// Give the server time to observe the first connection closing.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		active, total := srv.active, srv.total
		srv.mu.Unlock()
		if active == 1 && total == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	t.Errorf("active = %d (want 1), total = %d (want 2)", srv.active, srv.total)
}

func TestDeliveryPublishedToBus(t *testing.T) {
	srv, wsURL := newTestChannelServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	m := testManager(t, wsURL, b)
	defer m.Close()
	if err := m.Open(context.Background(), Session{LocalEmail: "a@x.com", CounterpartEmail: "b@x.com", ConversationID: "42"}); err != nil {
		t.Fatal(err)
	}
	srv.waitJoin(t)

	srv.push(t, map[string]any{
		"event": "message",
		"data": map[string]any{
			"messageId":      99,
			"conversationId": "42",
			"senderEmail":    "b@x.com",
			"message":        "hello",
			"timestamp":      1700000000000,
		},
	})

	select {
	case evt := <-ch:
		d, ok := evt.Payload.(*Delivery)
		if !ok {
			t.Fatalf("payload type = %T, want *Delivery", evt.Payload)
		}
		if d.ID != "99" || d.Body != "hello" || d.SenderEmail != "b@x.com" {
			t.Errorf("delivery = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery event")
	}
}

func TestStringEncodedPayloadParses(t *testing.T) {
	srv, wsURL := newTestChannelServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	m := testManager(t, wsURL, b)
	defer m.Close()
	if err := m.Open(context.Background(), Session{LocalEmail: "a@x.com", CounterpartEmail: "b@x.com"}); err != nil {
		t.Fatal(err)
	}
	srv.waitJoin(t)

	// Older backend versions double-encode the payload as a JSON string.
	srv.push(t, map[string]any{
		"event": "message",
		"data":  `{"messageId":"7","message":"doubly encoded","senderEmail":"b@x.com"}`,
	})

	select {
	case evt := <-ch:
		d := evt.Payload.(*Delivery)
		if d.ID != "7" || d.Body != "doubly encoded" {
			t.Errorf("delivery = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery event")
	}
}

func TestMalformedFrameSkipped(t *testing.T) {
	srv, wsURL := newTestChannelServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	m := testManager(t, wsURL, b)
	defer m.Close()
	if err := m.Open(context.Background(), Session{LocalEmail: "a@x.com", CounterpartEmail: "b@x.com"}); err != nil {
		t.Fatal(err)
	}
	srv.waitJoin(t)

	// Garbage, then a valid frame: the loop must survive the first.
	srv.mu.Lock()
	conn := srv.latest
	srv.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte("not json at all"))
	srv.push(t, map[string]any{
		"event": "message",
		"data":  map[string]any{"messageId": "1", "message": "still alive", "senderEmail": "b@x.com"},
	})

	select {
	case evt := <-ch:
		if evt.Payload.(*Delivery).Body != "still alive" {
			t.Errorf("unexpected delivery: %+v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: read loop died on malformed frame")
	}
}

func TestStaleTypingSignalIgnored(t *testing.T) {
	srv, wsURL := newTestChannelServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("typing.", 10)
	defer unsub()

	m := testManager(t, wsURL, b)
	defer m.Close()
	if err := m.Open(context.Background(), Session{LocalEmail: "a@x.com", CounterpartEmail: "b@x.com"}); err != nil {
		t.Fatal(err)
	}
	srv.waitJoin(t)

	// Signal from someone who is not the active counterpart: dropped.
	srv.push(t, map[string]any{
		"event": "typing",
		"data":  map[string]any{"senderEmail": "stranger@x.com", "conversationId": "42"},
	})
	// Signal from the active counterpart: delivered.
	srv.push(t, map[string]any{
		"event": "typing",
		"data":  map[string]any{"senderEmail": "B@x.com", "conversationId": "42"},
	})

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindTypingStarted {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.KindTypingStarted)
		}
		sig := evt.Payload.(TypingSignal)
		if !strings.EqualFold(sig.SenderEmail, "b@x.com") {
			t.Errorf("sender = %q, want the counterpart (stale signal leaked through)", sig.SenderEmail)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for typing event")
	}
}
