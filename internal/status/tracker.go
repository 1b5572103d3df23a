package status

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a status update references a message the
// store has never seen. Providers report statuses out of order, so callers
// log this and move on; it never aborts a webhook batch.
var ErrNotFound = errors.New("message not found")

// Changed is the payload of message.status_changed events. Message carries
// the post-transition state.
type Changed struct {
	Message *store.Message
	Old     Status
	New     Status
}

// ThreadRead is the payload of message.thread_read events: one aggregated
// event per bulk mark-read, however long the thread.
type ThreadRead struct {
	ContactID string
	Updated   int64
}

// Tracker applies status transitions to stored messages under the
// per-contact serialization scope and emits one event per real change.
type Tracker struct {
	db     store.Store
	bus    *bus.Bus
	locks  *lock.Keyed
	logger *zap.Logger
}

// NewTracker creates a status tracker.
func NewTracker(db store.Store, b *bus.Bus, locks *lock.Keyed, logger *zap.Logger) *Tracker {
	return &Tracker{db: db, bus: b, locks: locks, logger: logger}
}

// Update transitions the message identified by id (primary id first, then
// correlation id) to the requested status. Returns the stored message and
// whether anything changed. Downgrades and repeats are idempotent no-ops;
// illegal jumps are errors that leave stored state untouched.
func (t *Tracker) Update(id string, to Status) (*store.Message, bool, error) {
	if !Valid(to) {
		return nil, false, fmt.Errorf("unknown status %q", to)
	}

	msg, err := t.lookup(id)
	if err != nil {
		return nil, false, err
	}
	if msg == nil {
		t.logger.Warn("status update for unknown message",
			zap.String("id", id),
			zap.String("status", string(to)))
		return nil, false, ErrNotFound
	}

	unlock := t.locks.Lock(msg.ContactID)
	defer unlock()

	// Re-read under the contact lock; a concurrent update may have advanced
	// the message between lookup and acquisition.
	msg, err = t.db.GetMessageByID(msg.MsgID)
	if err != nil {
		return nil, false, fmt.Errorf("reload message: %w", err)
	}
	if msg == nil {
		return nil, false, ErrNotFound
	}

	old := Status(msg.Status)
	switch Classify(old, to) {
	case Noop:
		return msg, false, nil
	case Reject:
		return msg, false, fmt.Errorf("illegal status transition %s -> %s for message %s", old, to, msg.MsgID)
	}

	if err := t.db.UpdateMessageStatus(msg.MsgID, string(to)); err != nil {
		return nil, false, fmt.Errorf("update status: %w", err)
	}
	msg.Status = string(to)

	t.bus.Publish(bus.Event{
		Kind:      bus.KindMessageStatusChanged,
		Timestamp: time.Now(),
		Payload:   &Changed{Message: msg, Old: old, New: to},
	})
	return msg, true, nil
}

// MarkThreadRead transitions every unread inbound message of a contact to
// read in one logical operation and emits a single aggregated event.
func (t *Tracker) MarkThreadRead(contactID string) (int64, error) {
	unlock := t.locks.Lock(contactID)
	defer unlock()

	n, err := t.db.MarkThreadRead(contactID)
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	if n > 0 {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindThreadRead,
			Timestamp: time.Now(),
			Payload:   &ThreadRead{ContactID: contactID, Updated: n},
		})
	}
	return n, nil
}

func (t *Tracker) lookup(id string) (*store.Message, error) {
	msg, err := t.db.GetMessageByID(id)
	if err != nil {
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	if msg != nil {
		return msg, nil
	}
	msg, err = t.db.GetMessageByCorrelationID(id)
	if err != nil {
		return nil, fmt.Errorf("lookup by correlation id: %w", err)
	}
	return msg, nil
}
