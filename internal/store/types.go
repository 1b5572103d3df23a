package store

// Direction classifies a message relative to the local account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Kind is the closed set of message payload kinds. Body holds the text for
// KindText and a short human-readable descriptor for everything else.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindLocation Kind = "location"
)

// ValidKind reports whether k is a known message kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindText, KindImage, KindAudio, KindVideo, KindDocument, KindSticker, KindLocation:
		return true
	}
	return false
}

// Message is one entry in a contact's message log. MsgID is the canonical
// identity (provider-assigned for inbound, locally generated for outbound)
// and is unique across the store. Seq is the rowid and breaks timestamp
// ties in insertion order.
type Message struct {
	Seq           int64
	MsgID         string
	ContactID     string
	Direction     Direction
	Kind          Kind
	Body          string
	CorrelationID string
	Status        string
	Timestamp     int64
}

// Contact is the counterparty of a 1:1 thread. Created lazily on first
// message, never deleted by the core.
type Contact struct {
	ContactID   string
	DisplayName string
	AvatarRef   string
	LastSeen    int64
	Presence    string // "online" | "offline"
}

// Store is the persistence surface the core consumes. *DB is the SQLite
// implementation; the core never depends on engine specifics beyond this
// interface.
type Store interface {
	PutMessage(m *Message) error
	GetMessageByID(msgID string) (*Message, error)
	GetMessageByCorrelationID(cid string) (*Message, error)
	ListMessages(contactID string, beforeTs int64, limit int) ([]Message, error)
	UpdateMessageStatus(msgID, status string) error
	DeleteMessage(msgID string) (bool, error)
	MarkThreadRead(contactID string) (int64, error)
	SearchMessages(query, contactID string, limit int) ([]Message, error)
	LatestMessage(contactID string) (*Message, error)
	CountUnread(contactID string) (int, error)
	ListContactIDs() ([]string, error)
	UpsertContact(c *Contact) error
	GetContact(contactID string) (*Contact, error)
	UpdatePresence(contactID, presence string, lastSeen int64) error
	MessageCount() (int64, error)
	ContactCount() (int64, error)
}
