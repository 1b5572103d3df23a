package ingest

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testIngestor(t *testing.T, db *store.DB, b *bus.Bus) *Ingestor {
	t.Helper()
	if b == nil {
		b = bus.New()
	}
	return NewIngestor(db, b, lock.NewKeyed(), zap.NewNop())
}

func inbound(id, contact, body string) *store.Message {
	return &store.Message{
		MsgID:     id,
		ContactID: contact,
		Direction: store.DirectionInbound,
		Kind:      store.KindText,
		Body:      body,
		Timestamp: 1000,
	}
}

func TestIngestStoresAndEmits(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	g := testIngestor(t, db, b)

	ch, unsub := b.Subscribe("message.ingested", 10)
	defer unsub()

	res, err := g.Ingest(inbound("m1", "5511999990000", "hi"), &ContactMeta{DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Error("first ingest reported duplicate")
	}
	if res.Message.Status != string(status.Received) {
		t.Errorf("inbound default status = %q, want received", res.Message.Status)
	}
	if res.Contact.DisplayName != "Alice" {
		t.Errorf("contact name = %q, want Alice", res.Contact.DisplayName)
	}

	select {
	case evt := <-ch:
		p, ok := evt.Payload.(*Ingested)
		if !ok {
			t.Fatalf("payload type = %T, want *Ingested", evt.Payload)
		}
		if p.Message.MsgID != "m1" || p.Contact.ContactID != "5511999990000" {
			t.Errorf("payload = %v/%v", p.Message.MsgID, p.Contact.ContactID)
		}
		// The row must already be durable when the event is observed.
		stored, _ := db.GetMessageByID("m1")
		if stored == nil {
			t.Error("event observed before message was stored")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ingested event")
	}
}

func TestIngestDuplicateIsSilent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	g := testIngestor(t, db, b)

	if _, err := g.Ingest(inbound("m1", "c1", "original"), nil); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	// Replay with different content: stored row wins.
	res, err := g.Ingest(inbound("m1", "c1", "tampered"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Duplicate {
		t.Error("replay not reported as duplicate")
	}
	if res.Message.Body != "original" {
		t.Errorf("duplicate returned body %q, want stored original", res.Message.Body)
	}

	select {
	case evt := <-ch:
		t.Errorf("duplicate ingest emitted event %v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	n, _ := db.MessageCount()
	if n != 1 {
		t.Errorf("message count = %d after replay, want 1", n)
	}
}

func TestIngestValidation(t *testing.T) {
	g := testIngestor(t, testDB(t), nil)

	_, err := g.Ingest(&store.Message{Kind: "hologram", Direction: "sideways"}, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	fields := make(map[string]bool)
	for _, is := range verr.Issues {
		fields[is.Field] = true
	}
	for _, f := range []string{"msg_id", "contact_id", "direction", "kind", "timestamp"} {
		if !fields[f] {
			t.Errorf("missing issue for field %q in %v", f, verr.Issues)
		}
	}
}

func TestIngestPlaceholderContactName(t *testing.T) {
	db := testDB(t)
	g := testIngestor(t, db, nil)

	res, err := g.Ingest(inbound("m1", "5511999990000", "hi"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Contact.DisplayName != "User 0000" {
		t.Errorf("placeholder name = %q, want User 0000", res.Contact.DisplayName)
	}

	// Real name arriving later upgrades the placeholder.
	res, err = g.Ingest(inbound("m2", "5511999990000", "again"), &ContactMeta{DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Contact.DisplayName != "Alice" {
		t.Errorf("name after refresh = %q, want Alice", res.Contact.DisplayName)
	}
}

func TestSend(t *testing.T) {
	db := testDB(t)
	g := testIngestor(t, db, nil)

	msg, err := g.Send("c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(msg.MsgID, "msg_") {
		t.Errorf("local id = %q, want msg_ prefix", msg.MsgID)
	}
	if msg.Direction != store.DirectionOutbound || msg.Status != string(status.Sent) {
		t.Errorf("direction=%s status=%s, want outbound/sent", msg.Direction, msg.Status)
	}
	stored, _ := db.GetMessageByID(msg.MsgID)
	if stored == nil || stored.Body != "hello" {
		t.Errorf("stored = %v, want body hello", stored)
	}
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	g := testIngestor(t, db, b)

	if _, err := g.Ingest(inbound("m1", "c1", "hi"), nil); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("message.deleted", 10)
	defer unsub()

	if err := g.Delete("m1"); err != nil {
		t.Fatal(err)
	}
	if msg, _ := db.GetMessageByID("m1"); msg != nil {
		t.Error("message still present after delete")
	}

	select {
	case evt := <-ch:
		p := evt.Payload.(*Deleted)
		if p.MsgID != "m1" || p.ContactID != "c1" {
			t.Errorf("payload = %#v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for deleted event")
	}

	if err := g.Delete("m1"); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}
