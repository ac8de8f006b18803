// Package pipeline runs the two phases of a quoting run: Stage reads inquiries, computes
// quotes on the workbook and records them as UNPROCESSED; ConfirmAndSend reads the human
// approvals back from the workbook and dispatches the approved replies.
package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/mailbox"
	"github.com/hpungsan/quotedesk/internal/strategy"
)

// Fetcher returns raw inquiry messages received on or after since.
type Fetcher interface {
	Fetch(ctx context.Context, since time.Time) ([]mailbox.Raw, error)
}

// Sender delivers one reply.
type Sender interface {
	Send(ctx context.Context, out *mailbox.Outgoing) error
}

// Workbook is the valuation workbook as seen by a run.
type Workbook interface {
	strategy.Engine
	HasSheet(sheet string) bool
	FindMarkerRow(sheet, label string) (int, error)
	ClearColumns(sheet, from, to string) error
	PrepareSlot(sheet, template, col string) error
	WriteReport(sheet, tabColor string, header []string, rows [][]any) error
	Save() error
}

// RunContext carries everything one run touches. Nothing in this package keeps
// state outside of it, so independent runs can be composed and tested in isolation.
type RunContext struct {
	ID         string
	Log        *zap.Logger
	Config     *config.Config
	DB         *sql.DB
	Workbook   Workbook
	Fetcher    Fetcher
	Sender     Sender
	Strategies *strategy.Registry
	Skips      *SkipLog

	// From is the address replies are sent from
	From string

	Now func() time.Time
}

// NewRunContext creates a run with a fresh id and skip log. Transport and workbook
// handles are set by the caller.
func NewRunContext(cfg *config.Config, database *sql.DB, log *zap.Logger) *RunContext {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	return &RunContext{
		ID:         id,
		Log:        log.With(zap.String("run_id", id)),
		Config:     cfg,
		DB:         database,
		Strategies: strategy.NewRegistry(cfg),
		Skips:      &SkipLog{},
		Now:        time.Now,
	}
}

func (rc *RunContext) now() time.Time {
	if rc.Now == nil {
		return time.Now()
	}
	return rc.Now()
}
