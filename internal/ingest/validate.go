package ingest

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatd/internal/store"
)

// ValidationIssue describes one rejected field of an ingest request.
type ValidationIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError collects every issue found in a request so callers can
// report all of them at once instead of fixing one field per round trip.
type ValidationError struct {
	Issues []ValidationIssue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", is.Field, is.Reason)
	}
	return "invalid message: " + strings.Join(parts, "; ")
}

func validateMessage(m *store.Message) error {
	var issues []ValidationIssue
	if m.MsgID == "" {
		issues = append(issues, ValidationIssue{Field: "msg_id", Reason: "required"})
	}
	if m.ContactID == "" {
		issues = append(issues, ValidationIssue{Field: "contact_id", Reason: "required"})
	}
	if m.Direction != store.DirectionInbound && m.Direction != store.DirectionOutbound {
		issues = append(issues, ValidationIssue{Field: "direction", Reason: fmt.Sprintf("unknown value %q", m.Direction)})
	}
	if !store.ValidKind(m.Kind) {
		issues = append(issues, ValidationIssue{Field: "kind", Reason: fmt.Sprintf("unknown value %q", m.Kind)})
	}
	if m.Timestamp <= 0 {
		issues = append(issues, ValidationIssue{Field: "timestamp", Reason: "must be positive"})
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
