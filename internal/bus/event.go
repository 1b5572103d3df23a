package bus

import "time"

// Event kinds published by the core. Subscribers filter by namespace
// prefix, so "message." matches every message-log event and "" matches
// everything.
const (
	KindMessageIngested      = "message.ingested"
	KindMessageStatusChanged = "message.status_changed"
	KindThreadRead           = "message.thread_read"
	KindMessageDeleted       = "message.deleted"
	KindConversationUpdated  = "conversation.updated"
)

// Event represents a domain event published on the bus. Payload types live
// next to their emitters (ingest.Ingested, status.Changed, conv.Updated, ...).
// Events are published only after the corresponding store write committed,
// so a subscriber that queries after a notification always observes the
// state the notification describes.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
