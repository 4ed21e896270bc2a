package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/channel"
	"github.com/kariuki-john/remas-mobile/internal/rest"
	"github.com/kariuki-john/remas-mobile/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func self(email string) func() string {
	return func() string { return email }
}

func TestEngineIngestDelivery(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), self("me@x.com"), zap.NewNop())

	d := &channel.Delivery{
		ID: "m1", ConversationID: "42",
		SenderEmail: "Them@x.com", Body: "hello", Timestamp: 1000,
	}
	if err := e.IngestDelivery(d); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversation("42")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("conversation not auto-created")
	}
	if conv.LastMessageAt != 1000 {
		t.Errorf("last_message_at = %d, want 1000", conv.LastMessageAt)
	}

	msgs, err := db.ListMessages("42", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Fatalf("got %d messages, want 1 with body=hello", len(msgs))
	}
	if msgs[0].FromMe {
		t.Error("counterpart message flagged from_me")
	}
	if msgs[0].SenderEmail != "them@x.com" {
		t.Errorf("sender = %q, want lowercased them@x.com", msgs[0].SenderEmail)
	}
}

func TestEngineIngestDeliveryIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), self("me@x.com"), zap.NewNop())

	d := &channel.Delivery{ID: "m1", ConversationID: "42", SenderEmail: "them@x.com", Body: "v1", Timestamp: 1000}
	if err := e.IngestDelivery(d); err != nil {
		t.Fatal(err)
	}
	d.Body = "v2"
	if err := e.IngestDelivery(d); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("42", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2 (updated)", msgs[0].Body)
	}
}

func TestEngineSkipsDeliveryWithoutConversation(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), self("me@x.com"), zap.NewNop())

	// Pending conversation: no server id yet. Nothing to key the row on.
	d := &channel.Delivery{ID: "m1", SenderEmail: "them@x.com", Body: "hello", Timestamp: 1000}
	if err := e.IngestDelivery(d); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 0 {
		t.Errorf("got %d conversations, want 0", len(convs))
	}
}

func TestEngineIngestHistory(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), self("me@x.com"), zap.NewNop())

	msgs := []rest.Message{
		{ID: "m1", Body: "one", SenderEmail: "me@x.com", Timestamp: 1000},
		{ID: "m2", Body: "two", SenderEmail: "them@x.com", Timestamp: 2000},
		{Body: "no id, skipped", SenderEmail: "them@x.com", Timestamp: 3000},
	}
	if err := e.IngestHistory("42", msgs); err != nil {
		t.Fatal(err)
	}
	// Re-ingesting the same page must not duplicate rows.
	if err := e.IngestHistory("42", msgs); err != nil {
		t.Fatal(err)
	}

	stored, err := db.ListMessages("42", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("got %d messages, want 2", len(stored))
	}
	if !stored[0].FromMe || stored[1].FromMe {
		t.Error("from_me should mark only the local user's messages")
	}

	conv, err := db.GetConversation("42")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil || conv.LastMessageAt != 2000 {
		t.Errorf("conversation recency not bumped to 2000: %+v", conv)
	}
}

// The engine listens on the bus: a live delivery lands in the cache and
// marks the badge dirty without anyone calling it directly.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, self("me@x.com"), zap.NewNop())

	dirty, unsub := b.Subscribe("badge.", 10)
	defer unsub()

	e.Start(context.Background())
	defer e.Stop()

	b.Emit(bus.KindMessageReceived, &channel.Delivery{
		ID: "bm1", ConversationID: "7", SenderEmail: "them@x.com", Body: "from bus", Timestamp: 5000,
	})

	select {
	case evt := <-dirty:
		if evt.Kind != bus.KindBadgeDirty {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindBadgeDirty)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for badge.dirty")
	}

	msgs, err := db.ListMessages("7", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "from bus" {
		t.Fatalf("got %d messages, want 1 ingested from the bus", len(msgs))
	}
}
