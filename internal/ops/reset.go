package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/record"
)

// ResetInput contains parameters for the Reset operation.
type ResetInput struct {
	Ref string // record ULID or fingerprint
}

// ResetOutput contains the result of the Reset operation.
type ResetOutput struct {
	ID            string       `json:"id"`
	Fingerprint   string       `json:"fingerprint"`
	PreviousState record.State `json:"previous_state"`
	State         record.State `json:"state"`
	Message       string       `json:"message"`
}

// Reset moves a record back to UNPROCESSED so the next confirm run can pick it up again.
func Reset(ctx context.Context, database *sql.DB, input ResetInput) (*ResetOutput, error) {
	ref, err := ParseRef(input.Ref)
	if err != nil {
		return nil, err
	}

	before, err := lookup(database, ref)
	if err != nil {
		return nil, err
	}

	after, err := db.ResetByID(database, before.ID)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Record %s reset from %s to %s", after.ID, before.State, after.State)
	if before.State == record.StateUnprocessed {
		msg = fmt.Sprintf("Record %s was already %s", after.ID, after.State)
	}

	return &ResetOutput{
		ID:            after.ID,
		Fingerprint:   after.Fingerprint,
		PreviousState: before.State,
		State:         after.State,
		Message:       msg,
	}, nil
}

func lookup(database *sql.DB, ref *Ref) (*record.MessageRecord, error) {
	if ref.ByFingerprint {
		return db.GetByFingerprint(database, ref.Value)
	}
	return db.GetByID(database, ref.Value)
}
