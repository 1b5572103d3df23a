package conv

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

type fixture struct {
	db  *store.DB
	bus *bus.Bus
	ing *ingest.Ingestor
	tr  *status.Tracker
	agg *Aggregator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	locks := lock.NewKeyed()
	agg := NewAggregator(db, b, zap.NewNop())
	agg.Start(context.Background())
	t.Cleanup(agg.Stop)

	return &fixture{
		db:  db,
		bus: b,
		ing: ingest.NewIngestor(db, b, locks, zap.NewNop()),
		tr:  status.NewTracker(db, b, locks, zap.NewNop()),
		agg: agg,
	}
}

// waitUpdate blocks until the aggregator publishes an update for contactID.
func waitUpdate(t *testing.T, ch <-chan bus.Event, contactID string) *Updated {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			u, ok := evt.Payload.(*Updated)
			if ok && u.Entry.ContactID == contactID {
				return u
			}
		case <-deadline:
			t.Fatalf("timeout waiting for conversation update for %s", contactID)
		}
	}
}

func inbound(id, contact, body string, ts int64) *store.Message {
	return &store.Message{
		MsgID:     id,
		ContactID: contact,
		Direction: store.DirectionInbound,
		Kind:      store.KindText,
		Body:      body,
		Timestamp: ts,
	}
}

func TestAggregatorTracksLastMessageAndUnread(t *testing.T) {
	f := setup(t)
	ch, unsub := f.bus.Subscribe(bus.KindConversationUpdated, 64)
	defer unsub()

	if _, err := f.ing.Ingest(inbound("m1", "c1", "first", 1000), &ingest.ContactMeta{DisplayName: "Alice"}); err != nil {
		t.Fatal(err)
	}
	u := waitUpdate(t, ch, "c1")
	if u.Entry.UnreadCount != 1 || u.Entry.LastMessage.MsgID != "m1" {
		t.Errorf("after first message: unread=%d last=%s", u.Entry.UnreadCount, u.Entry.LastMessage.MsgID)
	}
	if u.Entry.DisplayName != "Alice" {
		t.Errorf("display name = %q, want Alice", u.Entry.DisplayName)
	}

	if _, err := f.ing.Ingest(inbound("m2", "c1", "second", 2000), nil); err != nil {
		t.Fatal(err)
	}
	u = waitUpdate(t, ch, "c1")
	if u.Entry.UnreadCount != 2 || u.Entry.LastMessage.MsgID != "m2" {
		t.Errorf("after second message: unread=%d last=%s", u.Entry.UnreadCount, u.Entry.LastMessage.MsgID)
	}
}

func TestAggregatorIgnoresLateHistory(t *testing.T) {
	f := setup(t)
	ch, unsub := f.bus.Subscribe(bus.KindConversationUpdated, 64)
	defer unsub()

	if _, err := f.ing.Ingest(inbound("m2", "c1", "newer", 2000), nil); err != nil {
		t.Fatal(err)
	}
	waitUpdate(t, ch, "c1")

	// Backfilled older message must not displace the newer last message.
	if _, err := f.ing.Ingest(inbound("m1", "c1", "older", 1000), nil); err != nil {
		t.Fatal(err)
	}
	u := waitUpdate(t, ch, "c1")
	if u.Entry.LastMessage.MsgID != "m2" {
		t.Errorf("last message = %s after backfill, want m2", u.Entry.LastMessage.MsgID)
	}
	if u.Entry.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", u.Entry.UnreadCount)
	}
}

func TestAggregatorThreadRead(t *testing.T) {
	f := setup(t)
	ch, unsub := f.bus.Subscribe(bus.KindConversationUpdated, 64)
	defer unsub()

	for i, id := range []string{"m1", "m2"} {
		if _, err := f.ing.Ingest(inbound(id, "c1", "hi", int64(1000+i)), nil); err != nil {
			t.Fatal(err)
		}
		waitUpdate(t, ch, "c1")
	}

	if _, err := f.tr.MarkThreadRead("c1"); err != nil {
		t.Fatal(err)
	}
	u := waitUpdate(t, ch, "c1")
	if u.Entry.UnreadCount != 0 {
		t.Errorf("unread = %d after mark read, want 0", u.Entry.UnreadCount)
	}
	if u.Entry.LastMessage.Status != string(status.Read) {
		t.Errorf("last message status = %q, want read", u.Entry.LastMessage.Status)
	}
}

func TestAggregatorStatusChangeUpdatesLastMessage(t *testing.T) {
	f := setup(t)
	ch, unsub := f.bus.Subscribe(bus.KindConversationUpdated, 64)
	defer unsub()

	msg, err := f.ing.Send("c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	waitUpdate(t, ch, "c1")

	if _, _, err := f.tr.Update(msg.MsgID, status.Delivered); err != nil {
		t.Fatal(err)
	}
	u := waitUpdate(t, ch, "c1")
	if u.Entry.LastMessage.Status != string(status.Delivered) {
		t.Errorf("last message status = %q, want delivered", u.Entry.LastMessage.Status)
	}
	if u.Entry.UnreadCount != 0 {
		t.Errorf("outbound thread unread = %d, want 0", u.Entry.UnreadCount)
	}
}

func TestAggregatorDeleteRepairsEntry(t *testing.T) {
	f := setup(t)
	ch, unsub := f.bus.Subscribe(bus.KindConversationUpdated, 64)
	defer unsub()

	for i, id := range []string{"m1", "m2"} {
		if _, err := f.ing.Ingest(inbound(id, "c1", "hi", int64(1000+i)), nil); err != nil {
			t.Fatal(err)
		}
		waitUpdate(t, ch, "c1")
	}

	// Deleting the last message falls back to the previous one.
	if err := f.ing.Delete("m2"); err != nil {
		t.Fatal(err)
	}
	u := waitUpdate(t, ch, "c1")
	if u.Entry.LastMessage.MsgID != "m1" || u.Entry.UnreadCount != 1 {
		t.Errorf("after delete: last=%s unread=%d, want m1/1", u.Entry.LastMessage.MsgID, u.Entry.UnreadCount)
	}

	// Deleting the final message removes the conversation.
	if err := f.ing.Delete("m1"); err != nil {
		t.Fatal(err)
	}
	u = waitUpdate(t, ch, "c1")
	if !u.Removed {
		t.Error("deleting last remaining message did not remove the conversation")
	}
	if f.agg.Get("c1") != nil {
		t.Error("entry still cached after removal")
	}
}

func TestAggregatorListOrder(t *testing.T) {
	f := setup(t)
	ch, unsub := f.bus.Subscribe(bus.KindConversationUpdated, 64)
	defer unsub()

	f.ing.Ingest(inbound("m1", "older", "hi", 1000), nil)
	waitUpdate(t, ch, "older")
	f.ing.Ingest(inbound("m2", "newer", "hi", 2000), nil)
	waitUpdate(t, ch, "newer")

	list := f.agg.List()
	if len(list) != 2 || list[0].ContactID != "newer" || list[1].ContactID != "older" {
		t.Errorf("list order = %v, want newer first", ids(list))
	}
}

// TestRebuildMatchesLive drives a mixed workload through events and checks
// that a from-scratch rebuild lands on the same state.
func TestRebuildMatchesLive(t *testing.T) {
	f := setup(t)
	ch, unsub := f.bus.Subscribe(bus.KindConversationUpdated, 64)
	defer unsub()

	f.ing.Ingest(inbound("a1", "alice", "hi", 1000), &ingest.ContactMeta{DisplayName: "Alice"})
	waitUpdate(t, ch, "alice")
	f.ing.Ingest(inbound("a2", "alice", "again", 2000), nil)
	waitUpdate(t, ch, "alice")
	msg, _ := f.ing.Send("bob", "hello")
	waitUpdate(t, ch, "bob")
	f.tr.Update(msg.MsgID, status.Delivered)
	waitUpdate(t, ch, "bob")
	f.tr.MarkThreadRead("alice")
	waitUpdate(t, ch, "alice")

	live := f.agg.List()

	fresh := NewAggregator(f.db, bus.New(), zap.NewNop())
	if err := fresh.Rebuild(); err != nil {
		t.Fatal(err)
	}
	rebuilt := fresh.List()

	if !reflect.DeepEqual(live, rebuilt) {
		t.Errorf("rebuild diverged from live state:\nlive:    %+v\nrebuilt: %+v", live, rebuilt)
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ContactID
	}
	return out
}
