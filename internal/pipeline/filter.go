package pipeline

import (
	"database/sql"
	"fmt"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/record"
	"github.com/hpungsan/quotedesk/internal/strategy"
)

// Outcome is the eligibility verdict for one message.
type Outcome int

const (
	Eligible Outcome = iota
	Ineligible
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Eligible:
		return "eligible"
	case Ineligible:
		return "ineligible"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Decision is returned by Filter.Check. Strategy is set only for eligible messages.
type Decision struct {
	Outcome  Outcome
	Reason   string
	Strategy strategy.Strategy
}

// Filter decides which messages are quoted. It remembers the fingerprints it accepted,
// so a second copy of a message later in the same run is a duplicate.
type Filter struct {
	dedup      string
	strategies *strategy.Registry
	db         *sql.DB
	seen       map[string]bool
}

// NewFilter creates a filter for one run.
func NewFilter(cfg *config.Config, strategies *strategy.Registry, database *sql.DB) *Filter {
	return &Filter{
		dedup:      cfg.Dedup,
		strategies: strategies,
		db:         database,
		seen:       make(map[string]bool),
	}
}

// Check classifies msg. Store errors are returned as-is and are fatal to the run.
func (f *Filter) Check(msg *record.Inbound, cat *config.Category) (Decision, error) {
	strat, ok := f.strategies.ForDomain(msg.Domain())
	if !ok {
		return Decision{Outcome: Ineligible, Reason: "no strategy configured"}, nil
	}

	if err := strat.Quotable(cat, msg.Fields); err != nil {
		reason := err.Error()
		if qe, ok := errors.As(err); ok {
			reason = qe.Message
		}
		return Decision{Outcome: Ineligible, Reason: reason}, nil
	}

	fp := msg.Fingerprint()
	if f.seen[fp] {
		return Decision{Outcome: Duplicate, Reason: "duplicate of an earlier message in this run"}, nil
	}
	state, found, err := db.LookupState(f.db, fp)
	if err != nil {
		return Decision{}, err
	}
	if found && (f.dedup == config.DedupAnyRecord || state != record.StateUnprocessed) {
		return Decision{Outcome: Duplicate, Reason: fmt.Sprintf("already handled (%s)", state)}, nil
	}

	f.seen[fp] = true
	return Decision{Outcome: Eligible, Strategy: strat}, nil
}
