package store

// Conversation is a cached conversation row.
type Conversation struct {
	ID               string
	CounterpartName  string
	CounterpartEmail string
	UnreadCount      int
	AvatarRef        string
	LastMessageAt    int64
}

// Message is a cached message row. MsgID is the server-assigned id;
// only confirmed messages are cached, so it is always present.
type Message struct {
	RowID          int64
	ConversationID string
	MsgID          string
	ClientID       string
	SenderEmail    string
	Body           string
	FromMe         bool
	Status         string
	Timestamp      int64
}
