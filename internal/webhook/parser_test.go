package webhook

import (
	"testing"

	"github.com/matheus3301/chatd/internal/store"
)

func TestParseTextMessage(t *testing.T) {
	mi := MessageInfo{
		ID:        "wamid.1",
		From:      "5511999990000",
		Timestamp: "1700000000",
		Type:      "text",
		Text:      &TextContent{Body: "hello"},
	}
	contacts := []ContactInfo{{WaID: "5511999990000"}}
	contacts[0].Profile.Name = "Alice"

	msg, meta, err := ParseMessage(mi, contacts)
	if err != nil {
		t.Fatal(err)
	}
	if msg.MsgID != "wamid.1" || msg.ContactID != "5511999990000" {
		t.Errorf("ids = %s/%s", msg.MsgID, msg.ContactID)
	}
	if msg.Direction != store.DirectionInbound || msg.Kind != store.KindText {
		t.Errorf("direction=%s kind=%s", msg.Direction, msg.Kind)
	}
	if msg.Body != "hello" {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d, want seconds converted to millis", msg.Timestamp)
	}
	if meta == nil || meta.DisplayName != "Alice" {
		t.Errorf("meta = %+v, want Alice", meta)
	}
}

func TestParseDescriptors(t *testing.T) {
	tests := []struct {
		name string
		mi   MessageInfo
		kind store.Kind
		body string
	}{
		{"image with caption", MessageInfo{Type: "image", Image: &MediaContent{Caption: "sunset"}}, store.KindImage, "Image: sunset"},
		{"image bare", MessageInfo{Type: "image"}, store.KindImage, "Image"},
		{"audio", MessageInfo{Type: "audio"}, store.KindAudio, "Audio message"},
		{"video with caption", MessageInfo{Type: "video", Video: &MediaContent{Caption: "clip"}}, store.KindVideo, "Video: clip"},
		{"document with filename", MessageInfo{Type: "document", Document: &MediaContent{Filename: "report.pdf"}}, store.KindDocument, "Document: report.pdf"},
		{"document bare", MessageInfo{Type: "document"}, store.KindDocument, "Document"},
		{"sticker", MessageInfo{Type: "sticker"}, store.KindSticker, "Sticker"},
		{"location", MessageInfo{Type: "location", Location: &Location{Latitude: 1, Longitude: 2}}, store.KindLocation, "Location shared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mi.ID = "m1"
			tt.mi.From = "c1"
			tt.mi.Timestamp = "1700000000"
			msg, _, err := ParseMessage(tt.mi, nil)
			if err != nil {
				t.Fatal(err)
			}
			if msg.Kind != tt.kind || msg.Body != tt.body {
				t.Errorf("kind=%s body=%q, want %s/%q", msg.Kind, msg.Body, tt.kind, tt.body)
			}
		})
	}
}

func TestParseUnsupportedType(t *testing.T) {
	_, _, err := ParseMessage(MessageInfo{ID: "m1", From: "c1", Type: "reaction", Timestamp: "1"}, nil)
	if err == nil {
		t.Error("unsupported type parsed without error")
	}
}

func TestParseTextWithoutContent(t *testing.T) {
	_, _, err := ParseMessage(MessageInfo{ID: "m1", From: "c1", Type: "text", Timestamp: "1"}, nil)
	if err == nil {
		t.Error("text message without body parsed without error")
	}
}

func TestParseBadTimestamp(t *testing.T) {
	msg, _, err := ParseMessage(MessageInfo{ID: "m1", From: "c1", Type: "text", Text: &TextContent{Body: "x"}, Timestamp: "soon"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Timestamp != 0 {
		t.Errorf("timestamp = %d, want 0 for unparseable input", msg.Timestamp)
	}
}

func TestCorrelationKey(t *testing.T) {
	s := StatusInfo{ID: "wamid.9", Status: "delivered"}
	if s.CorrelationKey() != "wamid.9" {
		t.Errorf("key = %q, want provider id", s.CorrelationKey())
	}
	s.MetaMsgID = "msg_local"
	if s.CorrelationKey() != "msg_local" {
		t.Errorf("key = %q, want meta_msg_id to win", s.CorrelationKey())
	}
}
