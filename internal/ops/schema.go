package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
)

// SchemaOutput contains the result of the InitSchema and DropSchema operations.
type SchemaOutput struct {
	Version int    `json:"version"`
	Message string `json:"message"`
}

// InitSchema creates the record table if it is missing. Existing records are kept.
func InitSchema(ctx context.Context, database *sql.DB) (*SchemaOutput, error) {
	if err := db.Migrate(database); err != nil {
		return nil, errors.NewInternal(err)
	}
	version, err := db.GetUserVersion(database)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &SchemaOutput{Version: version, Message: "Schema is up to date"}, nil
}

// DropSchemaInput contains parameters for the DropSchema operation.
type DropSchemaInput struct {
	// Confirm must be true; dropping the schema deletes every record.
	Confirm bool
}

// DropSchema removes the record table and every record in it.
func DropSchema(ctx context.Context, database *sql.DB, input DropSchemaInput) (*SchemaOutput, error) {
	if !input.Confirm {
		return nil, errors.NewInvalidRequest("dropping the schema deletes all records; confirmation required")
	}
	if err := db.DropSchema(database); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &SchemaOutput{Version: 0, Message: "Schema dropped"}, nil
}
