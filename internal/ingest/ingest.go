package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// ContactMeta is optional counterparty detail riding along with an inbound
// message (the provider's contacts block). Empty fields leave the stored
// contact untouched.
type ContactMeta struct {
	DisplayName string
	AvatarRef   string
}

// Ingested is the payload of message.ingested events. Contact is the
// resolved thread counterparty, after any lazy creation or name refresh.
type Ingested struct {
	Message *store.Message
	Contact *store.Contact
}

// Deleted is the payload of message.deleted events.
type Deleted struct {
	MsgID     string
	ContactID string
}

// Result reports the outcome of an ingest. When Duplicate is set, Message
// is the previously stored row and nothing was written or published.
type Result struct {
	Message   *store.Message
	Contact   *store.Contact
	Duplicate bool
}

// Ingestor writes messages into the store exactly once per msg_id and
// publishes message.ingested after the write commits. All writes for a
// contact are serialized on the per-contact lock shared with the status
// tracker.
type Ingestor struct {
	db     store.Store
	bus    *bus.Bus
	locks  *lock.Keyed
	logger *zap.Logger
}

// NewIngestor creates a message ingestor.
func NewIngestor(db store.Store, b *bus.Bus, locks *lock.Keyed, logger *zap.Logger) *Ingestor {
	return &Ingestor{db: db, bus: b, locks: locks, logger: logger}
}

// Ingest stores m if its msg_id has not been seen before. Redelivery of a
// known msg_id is a silent no-op reported through Result.Duplicate; the
// stored row wins even if the replay carries different content. The
// message's status defaults to the initial state of its direction when
// unset.
func (g *Ingestor) Ingest(m *store.Message, meta *ContactMeta) (*Result, error) {
	if err := validateMessage(m); err != nil {
		return nil, err
	}
	if m.Status == "" {
		m.Status = string(status.Initial(m.Direction == store.DirectionInbound))
	}

	unlock := g.locks.Lock(m.ContactID)
	defer unlock()

	prev, err := g.db.GetMessageByID(m.MsgID)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if prev != nil {
		g.logger.Debug("duplicate message ignored",
			zap.String("msg_id", m.MsgID),
			zap.String("contact_id", m.ContactID))
		contact, err := g.db.GetContact(prev.ContactID)
		if err != nil {
			return nil, fmt.Errorf("load contact: %w", err)
		}
		return &Result{Message: prev, Contact: contact, Duplicate: true}, nil
	}

	contact, err := g.resolveContact(m, meta)
	if err != nil {
		return nil, err
	}

	if err := g.db.PutMessage(m); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	g.bus.Publish(bus.Event{
		Kind:      bus.KindMessageIngested,
		Timestamp: time.Now(),
		Payload:   &Ingested{Message: m, Contact: contact},
	})
	return &Result{Message: m, Contact: contact}, nil
}

// Send stores a locally composed outbound text message and returns it. The
// id is generated here; the provider's echo id arrives later as a
// correlation id on status updates.
func (g *Ingestor) Send(contactID, body string) (*store.Message, error) {
	m := &store.Message{
		MsgID:     "msg_" + uuid.NewString(),
		ContactID: contactID,
		Direction: store.DirectionOutbound,
		Kind:      store.KindText,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	}
	res, err := g.Ingest(m, nil)
	if err != nil {
		return nil, err
	}
	return res.Message, nil
}

// Delete removes a message from the log and publishes message.deleted.
// Returns status.ErrNotFound when the id is unknown.
func (g *Ingestor) Delete(msgID string) error {
	msg, err := g.db.GetMessageByID(msgID)
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if msg == nil {
		return status.ErrNotFound
	}

	unlock := g.locks.Lock(msg.ContactID)
	defer unlock()

	ok, err := g.db.DeleteMessage(msgID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !ok {
		return status.ErrNotFound
	}

	g.bus.Publish(bus.Event{
		Kind:      bus.KindMessageDeleted,
		Timestamp: time.Now(),
		Payload:   &Deleted{MsgID: msgID, ContactID: msg.ContactID},
	})
	return nil
}

// resolveContact loads or lazily creates the thread counterparty. A fresh
// contact without a provider-supplied name gets a placeholder derived from
// the trailing digits of its id; a later message carrying the real name
// upgrades it.
func (g *Ingestor) resolveContact(m *store.Message, meta *ContactMeta) (*store.Contact, error) {
	c := &store.Contact{ContactID: m.ContactID}
	if meta != nil {
		c.DisplayName = meta.DisplayName
		c.AvatarRef = meta.AvatarRef
	}
	if m.Direction == store.DirectionInbound {
		c.LastSeen = m.Timestamp
	}

	existing, err := g.db.GetContact(m.ContactID)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if existing == nil && c.DisplayName == "" {
		c.DisplayName = placeholderName(m.ContactID)
	}

	if err := g.db.UpsertContact(c); err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	// A message from the contact is presence evidence.
	if m.Direction == store.DirectionInbound {
		if err := g.db.UpdatePresence(m.ContactID, "online", m.Timestamp); err != nil {
			return nil, fmt.Errorf("update presence: %w", err)
		}
	}
	contact, err := g.db.GetContact(m.ContactID)
	if err != nil {
		return nil, fmt.Errorf("reload contact: %w", err)
	}
	return contact, nil
}

func placeholderName(contactID string) string {
	suffix := contactID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "User " + suffix
}
