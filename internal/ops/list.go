package ops

import (
	"database/sql"
	"strings"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/record"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	State    string // optional
	Category string // optional
	Limit    int    // default: 20, max: 100
	Offset   int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []record.MessageRecord `json:"items"`
	Pagination Pagination             `json:"pagination"`
	Sort       string                 `json:"sort"`
}

// List retrieves records with optional state and category filters.
func List(database *sql.DB, input ListInput) (*ListOutput, error) {
	state, err := parseStateFilter(input.State)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	items, total, err := db.List(database, db.ListFilters{
		State:    state,
		Category: strings.TrimSpace(input.Category),
	}, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if items == nil {
		items = []record.MessageRecord{}
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "updated_at_desc",
	}, nil
}
