package webhook

import (
	"fmt"
	"strconv"

	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/store"
)

// Payload is the provider's webhook envelope: a batch of entries, each with
// changes carrying messages, statuses and contact details.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string        `json:"messaging_product"`
	Contacts         []ContactInfo `json:"contacts"`
	Messages         []MessageInfo `json:"messages"`
	Statuses         []StatusInfo  `json:"statuses"`
}

type ContactInfo struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type MessageInfo struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	MetaMsgID string `json:"meta_msg_id"`

	Text     *TextContent  `json:"text"`
	Image    *MediaContent `json:"image"`
	Audio    *MediaContent `json:"audio"`
	Video    *MediaContent `json:"video"`
	Document *MediaContent `json:"document"`
	Sticker  *MediaContent `json:"sticker"`
	Location *Location     `json:"location"`
}

type TextContent struct {
	Body string `json:"body"`
}

type MediaContent struct {
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

// StatusInfo is one delivery receipt. ID is the provider message id;
// MetaMsgID, when present, correlates the receipt back to a locally
// generated outbound id.
type StatusInfo struct {
	ID          string `json:"id"`
	MetaMsgID   string `json:"meta_msg_id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
	Timestamp   string `json:"timestamp"`
}

// ParseMessage converts a webhook message into a storable row plus the
// contact metadata riding with it. Non-text kinds get a short descriptor
// body so list views have something to show.
func ParseMessage(mi MessageInfo, contacts []ContactInfo) (*store.Message, *ingest.ContactMeta, error) {
	kind, body, err := content(mi)
	if err != nil {
		return nil, nil, err
	}

	m := &store.Message{
		MsgID:         mi.ID,
		ContactID:     mi.From,
		Direction:     store.DirectionInbound,
		Kind:          kind,
		Body:          body,
		CorrelationID: mi.MetaMsgID,
		Timestamp:     parseTimestamp(mi.Timestamp),
	}

	var meta *ingest.ContactMeta
	for _, c := range contacts {
		if c.WaID == mi.From && c.Profile.Name != "" {
			meta = &ingest.ContactMeta{DisplayName: c.Profile.Name}
			break
		}
	}
	return m, meta, nil
}

func content(mi MessageInfo) (store.Kind, string, error) {
	switch mi.Type {
	case "text":
		if mi.Text == nil {
			return "", "", fmt.Errorf("text message %s without text content", mi.ID)
		}
		return store.KindText, mi.Text.Body, nil
	case "image":
		return store.KindImage, captioned("Image", caption(mi.Image)), nil
	case "audio":
		return store.KindAudio, "Audio message", nil
	case "video":
		return store.KindVideo, captioned("Video", caption(mi.Video)), nil
	case "document":
		if mi.Document != nil && mi.Document.Filename != "" {
			return store.KindDocument, "Document: " + mi.Document.Filename, nil
		}
		return store.KindDocument, "Document", nil
	case "sticker":
		return store.KindSticker, "Sticker", nil
	case "location":
		return store.KindLocation, "Location shared", nil
	default:
		return "", "", fmt.Errorf("unsupported message type %q", mi.Type)
	}
}

func caption(m *MediaContent) string {
	if m == nil {
		return ""
	}
	return m.Caption
}

func captioned(label, cap string) string {
	if cap == "" {
		return label
	}
	return label + ": " + cap
}

// parseTimestamp converts the provider's second-resolution string timestamp
// to milliseconds. Unparseable values map to zero and fail validation
// downstream.
func parseTimestamp(s string) int64 {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return secs * 1000
}

// CorrelationKey returns the id a receipt should be matched on: the
// explicit correlation id when present, the provider message id otherwise.
func (s StatusInfo) CorrelationKey() string {
	if s.MetaMsgID != "" {
		return s.MetaMsgID
	}
	return s.ID
}
