package rest

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// ID is an opaque server-assigned identifier. The backend is inconsistent
// about emitting numbers vs strings, so both decode.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = ""
		return nil
	}
	s = strings.Trim(s, `"`)
	*id = ID(s)
	return nil
}

func (id ID) String() string { return string(id) }

// UnixMillis is a timestamp in milliseconds since the epoch. The backend
// emits either numeric epoch values or RFC3339 strings depending on the
// endpoint; both decode, and garbage decodes to zero rather than failing
// the whole payload.
type UnixMillis int64

func (m *UnixMillis) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	if n, err := strconv.ParseFloat(strings.Trim(s, `"`), 64); err == nil {
		*m = UnixMillis(int64(n))
		return nil
	}
	if bytes.HasPrefix(data, []byte(`"`)) {
		raw := strings.Trim(s, `"`)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				*m = UnixMillis(ts.UnixMilli())
				return nil
			}
		}
	}
	*m = 0
	return nil
}

// Time converts to a time.Time.
func (m UnixMillis) Time() time.Time { return time.UnixMilli(int64(m)) }

// Conversation is one thread between the tenant and a staff counterpart.
type Conversation struct {
	ID               ID         `json:"conversationId"`
	CounterpartName  string     `json:"name"`
	CounterpartEmail string     `json:"email"`
	UnreadCount      int        `json:"unreadCount"`
	AvatarRef        string     `json:"profileImage"`
	LastMessageAt    UnixMillis `json:"lastMessageAt"`
}

// Message is the wire shape of a chat message.
type Message struct {
	ID             ID         `json:"messageId"`
	ConversationID ID         `json:"conversationId"`
	Body           string     `json:"message"`
	SenderEmail    string     `json:"senderEmail"`
	Timestamp      UnixMillis `json:"timestamp"`
	ClientID       string     `json:"clientMessageId"`
}

// Candidate is a suggested counterpart identity not necessarily in an
// existing conversation.
type Candidate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Notification is a billing or general notification entry.
type Notification struct {
	ID        ID         `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	CreatedAt UnixMillis `json:"createdAt"`
	Read      bool       `json:"read"`
}

// NotificationKind selects which notification listing endpoint is queried.
type NotificationKind string

const (
	NotificationsUnread  NotificationKind = "unread"
	NotificationsBill    NotificationKind = "bill"
	NotificationsGeneral NotificationKind = "general"
)
