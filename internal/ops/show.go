package ops

import (
	"database/sql"

	"github.com/hpungsan/quotedesk/internal/record"
)

// ShowInput contains parameters for the Show operation.
type ShowInput struct {
	Ref         string // record ULID or fingerprint
	IncludeHTML bool
}

// ShowOutput is a record plus details recovered from its snapshot.
type ShowOutput struct {
	record.MessageRecord
	HasPayload bool     `json:"has_payload"`
	MessageID  string   `json:"message_id,omitempty"`
	To         []string `json:"to,omitempty"`
	Cc         []string `json:"cc,omitempty"`
}

// Show retrieves a single record by id or fingerprint.
func Show(database *sql.DB, input ShowInput) (*ShowOutput, error) {
	ref, err := ParseRef(input.Ref)
	if err != nil {
		return nil, err
	}

	r, err := lookup(database, ref)
	if err != nil {
		return nil, err
	}

	out := &ShowOutput{MessageRecord: *r, HasPayload: r.HasPayload()}
	if !input.IncludeHTML {
		out.RenderedHTML = nil
	}

	// A payload that no longer decodes is still worth showing; the record itself is intact.
	if r.HasPayload() {
		if snap, err := record.DecodeSnapshot(r.RawPayload); err == nil {
			out.MessageID = snap.MessageID
			out.To = snap.To
			out.Cc = snap.Cc
		}
	}
	return out, nil
}
