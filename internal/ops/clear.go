package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
)

// ClearInput contains parameters for the Clear operation.
type ClearInput struct {
	Confirm bool
}

// ClearOutput contains the result of the Clear operation.
type ClearOutput struct {
	Cleared int    `json:"cleared"`
	Message string `json:"message"`
}

// Clear deletes every record but keeps the schema.
func Clear(ctx context.Context, database *sql.DB, input ClearInput) (*ClearOutput, error) {
	if !input.Confirm {
		return nil, errors.NewInvalidRequest("clearing deletes all records; confirmation required")
	}

	count, err := db.ClearAll(database)
	if err != nil {
		return nil, err
	}

	msg := "No records to clear"
	if count > 0 {
		msg = fmt.Sprintf("Deleted %d %s", count, plural(count, "record"))
	}
	return &ClearOutput{Cleared: count, Message: msg}, nil
}
