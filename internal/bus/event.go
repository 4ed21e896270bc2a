package bus

import "time"

// Event kinds published by the messaging core. Subscribers filter by
// namespace prefix, e.g. "message." receives every message event.
const (
	KindMessageReceived   = "message.received"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindTypingStarted     = "typing.started"
	KindTypingStopped     = "typing.stopped"
	KindBadgeDirty        = "badge.dirty"
	KindBadgeUpdated      = "badge.updated"
	KindChannelClosed     = "channel.closed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
