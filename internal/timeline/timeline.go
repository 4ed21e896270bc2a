// Package timeline maintains the ordered, deduplicated message list for a
// single conversation. History fetched over REST, live-channel deliveries
// and optimistic local sends all funnel through one reconciliation rule,
// so both transports converge to the same rendered result regardless of
// arrival order.
package timeline

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeliveryState tracks a message through the send lifecycle.
type DeliveryState string

const (
	StatePending DeliveryState = "pending"
	StateSent    DeliveryState = "sent"
	StateFailed  DeliveryState = "failed"
)

// reconcileBucketMillis is the timestamp proximity window for the
// composite fallback match. Only used when the server did not echo the
// client correlation id.
const reconcileBucketMillis = 5000

// Message is one timeline entry. ServerID is empty for optimistic entries
// that have not been acknowledged; ClientID is the locally generated
// correlation id carried on sends.
type Message struct {
	ServerID       string
	ClientID       string
	ConversationID string
	Body           string
	SenderEmail    string
	Mine           bool
	Timestamp      int64 // unix millis
	State          DeliveryState

	seq int64 // arrival order tiebreaker for equal timestamps
}

// Timeline is safe for use from the REST response path and the channel
// read loop concurrently.
type Timeline struct {
	mu         sync.Mutex
	localEmail string
	msgs       []Message
	nextSeq    int64
}

// New creates an empty timeline for the given local identity.
func New(localEmail string) *Timeline {
	return &Timeline{localEmail: strings.ToLower(localEmail)}
}

// LoadHistory merges a REST history batch. The backend's return order is
// not guaranteed sorted and live deliveries may already be present, so
// every entry goes through reconciliation rather than wholesale replace.
func (t *Timeline) LoadHistory(msgs []Message) {
	for _, m := range msgs {
		t.Reconcile(m)
	}
}

// AppendOptimistic inserts a pending entry for a locally composed message
// and returns it. The caller sends the returned ClientID with the POST so
// the acknowledgment reconciles exactly.
func (t *Timeline) AppendOptimistic(conversationID, body string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Message{
		ClientID:       uuid.New().String(),
		ConversationID: conversationID,
		Body:           body,
		SenderEmail:    t.localEmail,
		Mine:           true,
		Timestamp:      time.Now().UnixMilli(),
		State:          StatePending,
	}
	t.insert(m)
	return m
}

// Reconcile applies a server-originated message (send ack, live delivery
// or history entry) to the timeline. Dedup precedence: server id, then
// client correlation id, then composite (sender, body, timestamp bucket).
// A match upgrades the existing entry in place; no match appends.
// Returns the resulting entry and whether it was newly appended.
func (t *Timeline) Reconcile(m Message) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m.SenderEmail = strings.ToLower(m.SenderEmail)
	m.Mine = m.SenderEmail == t.localEmail
	if m.State == "" {
		m.State = StateSent
	}

	if i := t.match(m); i >= 0 {
		seq := t.msgs[i].seq
		clientID := t.msgs[i].ClientID
		if m.ClientID == "" {
			m.ClientID = clientID
		}
		m.State = StateSent
		m.seq = seq
		t.msgs[i] = m
		t.resort()
		return m, false
	}

	t.insert(m)
	return m, true
}

// match returns the index of the existing entry m duplicates, or -1.
func (t *Timeline) match(m Message) int {
	if m.ServerID != "" {
		for i := range t.msgs {
			if t.msgs[i].ServerID == m.ServerID {
				return i
			}
		}
	}
	if m.ClientID != "" {
		for i := range t.msgs {
			if t.msgs[i].ClientID == m.ClientID {
				return i
			}
		}
	}
	// Composite fallback: an unacknowledged local entry with the same
	// sender and body, closest within the bucket. This covers servers
	// that do not echo the correlation id and the echo arriving over the
	// live channel before the POST returns.
	if !m.Mine {
		return -1
	}
	best, bestDelta := -1, int64(reconcileBucketMillis+1)
	for i := range t.msgs {
		e := &t.msgs[i]
		if e.ServerID != "" || !e.Mine || e.Body != m.Body {
			continue
		}
		delta := m.Timestamp - e.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta <= reconcileBucketMillis && delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	return best
}

// MarkFailed transitions a pending entry to failed. The entry stays
// visible with a retry affordance; it is never removed.
func (t *Timeline) MarkFailed(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.msgs {
		if t.msgs[i].ClientID == clientID && t.msgs[i].ServerID == "" {
			t.msgs[i].State = StateFailed
			return
		}
	}
}

// Retry flips a failed entry back to pending with a fresh timestamp and
// returns it for re-sending. Returns false if no failed entry matches.
func (t *Timeline) Retry(clientID string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.msgs {
		if t.msgs[i].ClientID == clientID && t.msgs[i].State == StateFailed {
			t.msgs[i].State = StatePending
			t.msgs[i].Timestamp = time.Now().UnixMilli()
			t.resort()
			return t.msgs[i], true
		}
	}
	return Message{}, false
}

// Messages returns a copy of the timeline in render order: ascending by
// timestamp, arrival order breaking ties.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

func (t *Timeline) insert(m Message) {
	m.seq = t.nextSeq
	t.nextSeq++
	t.msgs = append(t.msgs, m)
	t.resort()
}

func (t *Timeline) resort() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		if t.msgs[i].Timestamp != t.msgs[j].Timestamp {
			return t.msgs[i].Timestamp < t.msgs[j].Timestamp
		}
		return t.msgs[i].seq < t.msgs[j].seq
	})
}
