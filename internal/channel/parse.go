package channel

import (
	"encoding/json"
	"fmt"

	"github.com/kariuki-john/remas-mobile/internal/rest"
)

// Wire event names.
const (
	eventJoin       = "join"
	eventMessage    = "message"
	eventTyping     = "typing"
	eventStopTyping = "stop_typing"
)

// frame is the envelope every channel event travels in. Data may be a
// structured object or a JSON-encoded string depending on which backend
// version emitted it; both parse.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinFrame struct {
	Event string      `json:"event"`
	Data  joinPayload `json:"data"`
}

type joinPayload struct {
	Email string `json:"email"`
	Room  string `json:"room"`
}

type typingFrame struct {
	Event string        `json:"event"`
	Data  typingPayload `json:"data"`
}

// TypingPayload identifies who is typing in which conversation.
type typingPayload struct {
	SenderEmail    string `json:"senderEmail"`
	ConversationID string `json:"conversationId"`
	Room           string `json:"room"`
}

// TypingSignal is the bus payload for remote typing events.
type TypingSignal struct {
	SenderEmail    string
	ConversationID string
}

// Delivery is a message pushed over the live channel, normalized for the
// timeline.
type Delivery struct {
	ID             rest.ID         `json:"messageId"`
	ConversationID rest.ID         `json:"conversationId"`
	Room           string          `json:"room"`
	SenderEmail    string          `json:"senderEmail"`
	Body           string          `json:"message"`
	Timestamp      rest.UnixMillis `json:"timestamp"`
	ClientID       string          `json:"clientMessageId"`
}

func parseFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return frame{}, fmt.Errorf("frame without event")
	}
	return f, nil
}

// unwrapData decodes a frame payload into v, tolerating double encoding:
// some backend versions send the payload as a JSON string rather than an
// object.
func unwrapData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("frame without data")
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return fmt.Errorf("decode string payload: %w", err)
		}
		data = json.RawMessage(inner)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func parseDelivery(data json.RawMessage) (*Delivery, error) {
	var d Delivery
	if err := unwrapData(data, &d); err != nil {
		return nil, err
	}
	if d.Body == "" && d.ID == "" {
		return nil, fmt.Errorf("delivery without body or id")
	}
	return &d, nil
}

func parseTyping(data json.RawMessage) (TypingSignal, error) {
	var p typingPayload
	if err := unwrapData(data, &p); err != nil {
		return TypingSignal{}, err
	}
	if p.SenderEmail == "" {
		return TypingSignal{}, fmt.Errorf("typing signal without sender")
	}
	return TypingSignal{SenderEmail: p.SenderEmail, ConversationID: p.ConversationID}, nil
}
