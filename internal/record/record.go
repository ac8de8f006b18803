package record

// State is the processing state of a staged message.
type State string

const (
	// StateUnprocessed is the initial state: quoted and staged, not yet sent.
	StateUnprocessed State = "unprocessed"
	// StateProcessed is terminal: the reply was sent successfully.
	StateProcessed State = "processed"
	// StateManual is terminal: rejected by a human or taken out of automation.
	StateManual State = "manual"
)

// AllStates lists the valid states in lifecycle order.
var AllStates = []State{StateUnprocessed, StateProcessed, StateManual}

// ParseState validates a state name.
func ParseState(s string) (State, bool) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether no automated transition leaves this state.
func (s State) Terminal() bool {
	return s == StateProcessed || s == StateManual
}

// CanTransition reports whether the pipeline may move a record from s to next.
// Only UNPROCESSED may advance; the administrative reset is handled separately.
func (s State) CanTransition(next State) bool {
	return s == StateUnprocessed && next.Terminal()
}

// MessageRecord is the durable per-fingerprint row of the fingerprint store.
type MessageRecord struct {
	// ID is a ULID used by administrative operations
	ID string `json:"id"`

	// Fingerprint is the sha256 of subject and sent time (unique)
	Fingerprint string `json:"fingerprint"`

	// Category is the workbook sheet the message was quoted on
	Category string `json:"category"`

	State State `json:"state"`

	// Sender is the sender's email address
	Sender string `json:"sender"`

	Subject string `json:"subject"`

	// ReceivedAt is the Unix timestamp the message was sent
	ReceivedAt int64 `json:"received_at"`

	// CreatedAt is the Unix timestamp the record was first staged
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp of the last state change or refresh
	UpdatedAt int64 `json:"updated_at"`

	// RawPayload is the encoded Snapshot of the inbound message (nil when absent)
	RawPayload []byte `json:"-"`

	// ExtractedFields is the field table captured at staging time
	ExtractedFields Fields `json:"extracted_fields,omitempty"`

	// QuoteValue is the value computed by the valuation workbook (nullable)
	QuoteValue *float64 `json:"quote_value,omitempty"`

	// RenderedHTML is the staged reply body (nullable)
	RenderedHTML *string `json:"rendered_html,omitempty"`

	// SlotColumn is the workbook column used in the staging run (nullable)
	SlotColumn *string `json:"slot_column,omitempty"`
}

// HasPayload reports whether the record can be resent without re-fetching.
func (r *MessageRecord) HasPayload() bool {
	return len(r.RawPayload) > 0
}
