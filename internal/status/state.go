package status

import "slices"

// Status is a message delivery lifecycle state. Outbound messages walk the
// sent → delivered → read chain (providers may coalesce and skip delivered).
// Inbound messages start at received and move only to read; they never
// enter the outbound chain.
type Status string

const (
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Received  Status = "received"
)

// validTransitions defines the legal forward moves per state.
var validTransitions = map[Status][]Status{
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Received:  {Read},
	Read:      {},
}

// rank orders states along the lifecycle so regressions can be told apart
// from illegal jumps. Sent and received share the initial rank of their
// respective chains.
var rank = map[Status]int{
	Sent:      1,
	Received:  1,
	Delivered: 2,
	Read:      3,
}

// Valid reports whether s is a defined status value.
func Valid(s Status) bool {
	_, ok := rank[s]
	return ok
}

// Outcome classifies a requested transition.
type Outcome int

const (
	// Apply means the transition is legal and must be persisted.
	Apply Outcome = iota
	// Noop means the request targets an earlier or equal state; idempotent,
	// nothing changes and no event is emitted.
	Noop
	// Reject means the request is illegal (undefined value or a jump into
	// the wrong chain) and must be refused without touching stored state.
	Reject
)

// Classify decides how a from → to request is handled.
func Classify(from, to Status) Outcome {
	if !Valid(from) || !Valid(to) {
		return Reject
	}
	if slices.Contains(validTransitions[from], to) {
		return Apply
	}
	if rank[to] <= rank[from] {
		return Noop
	}
	return Reject
}

// Initial returns the status a freshly ingested message starts in.
func Initial(inbound bool) Status {
	if inbound {
		return Received
	}
	return Sent
}
