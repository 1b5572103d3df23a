package hub

import (
	"context"

	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/conv"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// Frame is the wire envelope pushed to viewers. Payload shape depends on
// Type, which mirrors the bus event kinds.
type Frame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

type messageFrame struct {
	Message *messageView `json:"message"`
	Contact *contactView `json:"contact,omitempty"`
	Old     string       `json:"old_status,omitempty"`
	New     string       `json:"new_status,omitempty"`
}

type threadFrame struct {
	ContactID string `json:"contact_id"`
	Updated   int64  `json:"updated"`
}

type deleteFrame struct {
	MsgID     string `json:"msg_id"`
	ContactID string `json:"contact_id"`
}

type messageView struct {
	MsgID         string `json:"msg_id"`
	ContactID     string `json:"contact_id"`
	Direction     string `json:"direction"`
	Kind          string `json:"kind"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp"`
}

type contactView struct {
	ContactID   string `json:"contact_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Presence    string `json:"presence"`
	LastSeen    int64  `json:"last_seen,omitempty"`
}

type conversationFrame struct {
	ContactID   string       `json:"contact_id"`
	DisplayName string       `json:"display_name"`
	AvatarRef   string       `json:"avatar_ref,omitempty"`
	Presence    string       `json:"presence"`
	LastSeen    int64        `json:"last_seen,omitempty"`
	LastMessage *messageView `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
	Removed     bool         `json:"removed,omitempty"`
}

// Viewer is one connected client. Each viewer watches at most one contact's
// thread at a time; conversation list updates go to everyone.
type Viewer struct {
	ID   string
	send chan Frame

	// watching is owned by the hub loop.
	watching string
}

// Frames returns the viewer's outbound frame stream.
func (v *Viewer) Frames() <-chan Frame { return v.send }

type watchReq struct {
	viewer    *Viewer
	contactID string
}

// Hub fans bus events out to connected viewers. All viewer state is owned
// by the run loop; register, unregister and watch requests travel over
// channels, so no locks are needed.
type Hub struct {
	bus    *bus.Bus
	logger *zap.Logger

	register   chan *Viewer
	unregister chan *Viewer
	watch      chan watchReq

	viewers   map[*Viewer]struct{}
	byContact map[string]map[*Viewer]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a hub. Call Start before registering viewers.
func New(b *bus.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		bus:        b,
		logger:     logger,
		register:   make(chan *Viewer),
		unregister: make(chan *Viewer),
		watch:      make(chan watchReq),
		viewers:    make(map[*Viewer]struct{}),
		byContact:  make(map[string]map[*Viewer]struct{}),
	}
}

// Start runs the fan-out loop until ctx is cancelled or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	events, unsub := h.bus.Subscribe("", 512)
	go func() {
		defer close(h.done)
		defer unsub()
		h.run(ctx, events)
	}()
}

// Stop halts the loop and closes every viewer's frame stream.
func (h *Hub) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Register attaches a viewer to the hub. No-op after Stop.
func (h *Hub) Register(v *Viewer) {
	select {
	case h.register <- v:
	case <-h.done:
	}
}

// Unregister detaches a viewer and closes its frame stream. No-op after
// Stop (the loop already closed every stream on the way out).
func (h *Hub) Unregister(v *Viewer) {
	select {
	case h.unregister <- v:
	case <-h.done:
	}
}

// Watch points the viewer at one contact's thread, replacing any previous
// watch. An empty contact id clears the watch.
func (h *Hub) Watch(v *Viewer, contactID string) {
	select {
	case h.watch <- watchReq{viewer: v, contactID: contactID}:
	case <-h.done:
	}
}

func (h *Hub) run(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			for v := range h.viewers {
				close(v.send)
			}
			return
		case v := <-h.register:
			h.viewers[v] = struct{}{}
			h.logger.Debug("viewer connected", zap.String("viewer", v.ID))
		case v := <-h.unregister:
			h.drop(v)
		case req := <-h.watch:
			if _, ok := h.viewers[req.viewer]; !ok {
				continue
			}
			h.rewatch(req.viewer, req.contactID)
		case evt := <-events:
			h.dispatch(evt)
		}
	}
}

func (h *Hub) drop(v *Viewer) {
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	h.detach(v)
	close(v.send)
	h.logger.Debug("viewer disconnected", zap.String("viewer", v.ID))
}

func (h *Hub) detach(v *Viewer) {
	if v.watching == "" {
		return
	}
	if set := h.byContact[v.watching]; set != nil {
		delete(set, v)
		if len(set) == 0 {
			delete(h.byContact, v.watching)
		}
	}
	v.watching = ""
}

func (h *Hub) rewatch(v *Viewer, contactID string) {
	h.detach(v)
	if contactID == "" {
		return
	}
	v.watching = contactID
	set := h.byContact[contactID]
	if set == nil {
		set = make(map[*Viewer]struct{})
		h.byContact[contactID] = set
	}
	set[v] = struct{}{}
}

// dispatch routes one bus event: message events go to viewers watching the
// affected thread, conversation updates go to everyone.
func (h *Hub) dispatch(evt bus.Event) {
	frame := Frame{Type: evt.Kind, Timestamp: evt.Timestamp.UnixMilli()}

	switch p := evt.Payload.(type) {
	case *ingest.Ingested:
		frame.Payload = &messageFrame{Message: viewMessage(p.Message), Contact: viewContact(p.Contact)}
		h.toWatchers(p.Message.ContactID, frame)
	case *status.Changed:
		frame.Payload = &messageFrame{Message: viewMessage(p.Message), Old: string(p.Old), New: string(p.New)}
		h.toWatchers(p.Message.ContactID, frame)
	case *status.ThreadRead:
		frame.Payload = &threadFrame{ContactID: p.ContactID, Updated: p.Updated}
		h.toWatchers(p.ContactID, frame)
	case *ingest.Deleted:
		frame.Payload = &deleteFrame{MsgID: p.MsgID, ContactID: p.ContactID}
		h.toWatchers(p.ContactID, frame)
	case *conv.Updated:
		frame.Payload = viewConversation(p)
		h.toAll(frame)
	}
}

func (h *Hub) toWatchers(contactID string, frame Frame) {
	for v := range h.byContact[contactID] {
		h.deliver(v, frame)
	}
}

func (h *Hub) toAll(frame Frame) {
	for v := range h.viewers {
		h.deliver(v, frame)
	}
}

// deliver never blocks the loop: a viewer that cannot keep up is dropped.
func (h *Hub) deliver(v *Viewer, frame Frame) {
	select {
	case v.send <- frame:
	default:
		h.logger.Warn("viewer too slow, dropping", zap.String("viewer", v.ID))
		h.drop(v)
	}
}

func viewMessage(m *store.Message) *messageView {
	if m == nil {
		return nil
	}
	return &messageView{
		MsgID:         m.MsgID,
		ContactID:     m.ContactID,
		Direction:     string(m.Direction),
		Kind:          string(m.Kind),
		Body:          m.Body,
		CorrelationID: m.CorrelationID,
		Status:        m.Status,
		Timestamp:     m.Timestamp,
	}
}

func viewContact(c *store.Contact) *contactView {
	if c == nil {
		return nil
	}
	return &contactView{
		ContactID:   c.ContactID,
		DisplayName: c.DisplayName,
		AvatarRef:   c.AvatarRef,
		Presence:    c.Presence,
		LastSeen:    c.LastSeen,
	}
}

func viewConversation(u *conv.Updated) *conversationFrame {
	f := &conversationFrame{
		ContactID:   u.Entry.ContactID,
		DisplayName: u.Entry.DisplayName,
		AvatarRef:   u.Entry.AvatarRef,
		Presence:    u.Entry.Presence,
		LastSeen:    u.Entry.LastSeen,
		LastMessage: viewMessage(u.Entry.LastMessage),
		UnreadCount: u.Entry.UnreadCount,
		Removed:     u.Removed,
	}
	return f
}

// NewViewer creates a viewer with a buffered frame stream.
func NewViewer(id string, buf int) *Viewer {
	if buf <= 0 {
		buf = 64
	}
	return &Viewer{ID: id, send: make(chan Frame, buf)}
}
