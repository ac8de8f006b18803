package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/record"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	OlderThanDays int    // required, records created more than N days ago are deleted
	State         string // optional filter by state
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently deletes records older than the given age.
func Purge(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	if input.OlderThanDays < 1 {
		return nil, errors.NewInvalidRequest("older_than_days must be at least 1")
	}
	state, err := parseStateFilter(input.State)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -input.OlderThanDays).Unix()
	count, err := db.PurgeOlderThan(database, cutoff, state)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.OlderThanDays, state),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count, olderThanDays int, state record.State) string {
	if count == 0 {
		return "No records to purge"
	}

	msg := fmt.Sprintf("Permanently deleted %d %s", count, plural(count, "record"))
	if state != "" {
		msg += fmt.Sprintf(" in state %s", state)
	}
	msg += fmt.Sprintf(" (created more than %d days ago)", olderThanDays)
	return msg
}
