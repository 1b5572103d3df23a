package conv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// Entry is one row of the conversation list: a contact plus the digest of
// its thread. LastMessage is nil only transiently, for contacts whose last
// message was just deleted.
type Entry struct {
	ContactID   string
	DisplayName string
	AvatarRef   string
	Presence    string
	LastSeen    int64
	LastMessage *store.Message
	UnreadCount int
}

// Updated is the payload of conversation.updated events. Removed is set
// when the thread's last message was deleted and nothing remains.
type Updated struct {
	Entry   *Entry
	Removed bool
}

// Aggregator maintains the conversation list as a cache over the message
// log, fed by bus events. It can always be rebuilt from the store, so a
// missed event is an inconsistency bounded by the next rebuild, never data
// loss.
type Aggregator struct {
	db     store.Store
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAggregator creates an empty aggregator. Call Rebuild to seed it from
// the store and Start to keep it current.
func NewAggregator(db store.Store, b *bus.Bus, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		db:      db,
		bus:     b,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Start subscribes to message events and applies them until ctx is
// cancelled or Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	ch, unsub := a.bus.Subscribe("message.", 256)
	go func() {
		defer close(a.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				a.apply(evt)
			}
		}
	}()
}

// Stop halts event processing. Safe to call without a prior Start.
func (a *Aggregator) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *Aggregator) apply(evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case *ingest.Ingested:
		err = a.onIngested(p)
	case *status.Changed:
		err = a.onStatusChanged(p)
	case *status.ThreadRead:
		err = a.onThreadRead(p)
	case *ingest.Deleted:
		err = a.onDeleted(p)
	}
	if err != nil {
		a.logger.Error("conversation update failed",
			zap.String("kind", evt.Kind),
			zap.Error(err))
	}
}

func (a *Aggregator) onIngested(p *ingest.Ingested) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[p.Message.ContactID]
	if !ok {
		e = &Entry{ContactID: p.Message.ContactID}
		a.entries[p.Message.ContactID] = e
	}
	if p.Contact != nil {
		e.DisplayName = p.Contact.DisplayName
		e.AvatarRef = p.Contact.AvatarRef
		e.Presence = p.Contact.Presence
		e.LastSeen = p.Contact.LastSeen
	}
	// Late-arriving history must not displace a newer last message.
	if e.LastMessage == nil || p.Message.Timestamp >= e.LastMessage.Timestamp {
		e.LastMessage = p.Message
	}
	if p.Message.Direction == store.DirectionInbound && p.Message.Status != string(status.Read) {
		e.UnreadCount++
	}
	a.publish(e)
	return nil
}

func (a *Aggregator) onStatusChanged(p *status.Changed) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[p.Message.ContactID]
	if !ok {
		return nil
	}
	changed := false
	if e.LastMessage != nil && e.LastMessage.MsgID == p.Message.MsgID {
		e.LastMessage = p.Message
		changed = true
	}
	if p.Message.Direction == store.DirectionInbound && p.New == status.Read {
		n, err := a.db.CountUnread(e.ContactID)
		if err != nil {
			return fmt.Errorf("recount unread: %w", err)
		}
		if e.UnreadCount != n {
			e.UnreadCount = n
			changed = true
		}
	}
	if changed {
		a.publish(e)
	}
	return nil
}

func (a *Aggregator) onThreadRead(p *status.ThreadRead) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[p.ContactID]
	if !ok {
		return nil
	}
	e.UnreadCount = 0
	if e.LastMessage != nil && e.LastMessage.Direction == store.DirectionInbound {
		e.LastMessage.Status = string(status.Read)
	}
	a.publish(e)
	return nil
}

// onDeleted recomputes the entry from the store: the deleted message may
// have been the last one, an unread one, or both.
func (a *Aggregator) onDeleted(p *ingest.Deleted) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, err := a.load(p.ContactID)
	if err != nil {
		return err
	}
	if e == nil {
		delete(a.entries, p.ContactID)
		a.bus.Publish(bus.Event{
			Kind:      bus.KindConversationUpdated,
			Timestamp: time.Now(),
			Payload:   &Updated{Entry: &Entry{ContactID: p.ContactID}, Removed: true},
		})
		return nil
	}
	a.entries[p.ContactID] = e
	a.publish(e)
	return nil
}

// publish emits conversation.updated with a snapshot of the entry. Caller
// holds a.mu.
func (a *Aggregator) publish(e *Entry) {
	snap := *e
	if e.LastMessage != nil {
		m := *e.LastMessage
		snap.LastMessage = &m
	}
	a.bus.Publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: time.Now(),
		Payload:   &Updated{Entry: &snap},
	})
}

// load computes a contact's entry from the store, or nil when the thread
// has no messages left.
func (a *Aggregator) load(contactID string) (*Entry, error) {
	last, err := a.db.LatestMessage(contactID)
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	if last == nil {
		return nil, nil
	}
	unread, err := a.db.CountUnread(contactID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	e := &Entry{ContactID: contactID, LastMessage: last, UnreadCount: unread}
	contact, err := a.db.GetContact(contactID)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if contact != nil {
		e.DisplayName = contact.DisplayName
		e.AvatarRef = contact.AvatarRef
		e.Presence = contact.Presence
		e.LastSeen = contact.LastSeen
	}
	return e, nil
}

// Rebuild recomputes the whole list from the store, discarding cached
// state. Run at startup and whenever drift is suspected.
func (a *Aggregator) Rebuild() error {
	ids, err := a.db.ListContactIDs()
	if err != nil {
		return fmt.Errorf("list contacts: %w", err)
	}

	fresh := make(map[string]*Entry, len(ids))
	for _, id := range ids {
		e, err := a.load(id)
		if err != nil {
			return err
		}
		if e != nil {
			fresh[id] = e
		}
	}

	a.mu.Lock()
	a.entries = fresh
	a.mu.Unlock()
	a.logger.Info("conversation list rebuilt", zap.Int("conversations", len(fresh)))
	return nil
}

// List returns the conversation list sorted by last-message recency,
// newest first. Ties break on contact id for a stable order.
func (a *Aggregator) List() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		snap := *e
		if e.LastMessage != nil {
			m := *e.LastMessage
			snap.LastMessage = &m
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := lastTs(&out[i]), lastTs(&out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i].ContactID < out[j].ContactID
	})
	return out
}

// Get returns a snapshot of one contact's entry, or nil if the contact has
// no conversation.
func (a *Aggregator) Get(contactID string) *Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.entries[contactID]
	if !ok {
		return nil
	}
	snap := *e
	if e.LastMessage != nil {
		m := *e.LastMessage
		snap.LastMessage = &m
	}
	return &snap
}

func lastTs(e *Entry) int64 {
	if e.LastMessage == nil {
		return 0
	}
	return e.LastMessage.Timestamp
}
