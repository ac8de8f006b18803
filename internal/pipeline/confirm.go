package pipeline

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hpungsan/quotedesk/internal/compose"
	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/mailbox"
	"github.com/hpungsan/quotedesk/internal/record"
)

// ConfirmSummary reports the outcome of Phase B.
type ConfirmSummary struct {
	RunID    string `json:"run_id"`
	Approved int    `json:"approved"`
	Rejected int    `json:"rejected"`
	// Missing counts approved fingerprints with no UNPROCESSED record.
	Missing int `json:"missing"`
	Sent    int `json:"sent"`
	// Failed maps a fingerprint to why its reply was not sent; those records stay UNPROCESSED.
	Failed map[string]string `json:"failed,omitempty"`
}

// ConfirmAndSend runs Phase B: rejected records move to MANUAL without sending, approved
// records are re-rendered with any override and sent, and only successful sends move to
// PROCESSED. Everything else stays UNPROCESSED for the next run.
func ConfirmAndSend(ctx context.Context, rc *RunContext) (*ConfirmSummary, error) {
	log := rc.Log.With(zap.String("phase", "confirm"))
	cfg := rc.Config
	sum := &ConfirmSummary{RunID: rc.ID, Failed: make(map[string]string)}

	approvals, err := Gate(rc.Workbook, cfg, log)
	if err != nil {
		return nil, err
	}
	sum.Approved = len(approvals.Approved)

	if len(approvals.Rejected) > 0 {
		rejected := make([]string, 0, len(approvals.Rejected))
		for fp := range approvals.Rejected {
			rejected = append(rejected, fp)
		}
		sort.Strings(rejected)
		n, err := db.Transition(rc.DB, rejected, record.StateManual)
		if err != nil {
			return nil, err
		}
		sum.Rejected = n
		log.Info("rejected records moved to manual", zap.Int("count", n))
	}

	approved := approvals.Fingerprints()
	sort.Strings(approved)
	recs, err := db.ListByFingerprints(rc.DB, approved, record.StateUnprocessed)
	if err != nil {
		return nil, err
	}
	sum.Missing = len(approved) - len(recs)

	note, err := compose.Note(cfg.ReplyNote)
	if err != nil {
		return nil, errors.NewConfig(fmt.Sprintf("reply note: %v", err))
	}

	outgoing := make([]*mailbox.Outgoing, 0, len(recs))
	for i := range recs {
		out, err := buildOutgoing(rc, &recs[i], approvals.Approved[recs[i].Fingerprint], note)
		if err != nil {
			sum.Failed[recs[i].Fingerprint] = reasonOf(err)
			log.Warn("reply not built", zap.String("id", recs[i].ID), zap.Error(err))
			continue
		}
		outgoing = append(outgoing, out)
	}

	dispatcher := NewDispatcher(rc.Sender, cfg.DispatchWidth, log)
	results := dispatcher.SendAll(ctx, outgoing)

	var succeeded []string
	for fp, err := range results {
		if err != nil {
			sum.Failed[fp] = reasonOf(err)
			continue
		}
		succeeded = append(succeeded, fp)
	}
	sort.Strings(succeeded)
	n, err := db.Transition(rc.DB, succeeded, record.StateProcessed)
	if err != nil {
		return nil, err
	}
	sum.Sent = n

	sent, failed := dispatcher.Stats()
	log.Info("confirm done",
		zap.Int("approved", sum.Approved), zap.Int("rejected", sum.Rejected),
		zap.Int64("sent", sent), zap.Int64("send_failures", failed), zap.Int("missing", sum.Missing))
	return sum, nil
}

// buildOutgoing restores the staged message, applies an override and builds the reply.
func buildOutgoing(rc *RunContext, rec *record.MessageRecord, override *float64, note string) (*mailbox.Outgoing, error) {
	msg, err := record.DecodeSnapshot(rec.RawPayload)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rendered := ""
	if rec.RenderedHTML != nil {
		rendered = *rec.RenderedHTML
	}

	if override != nil {
		cat, ok := rc.Config.Category(rec.Category)
		if !ok {
			return nil, errors.NewConfig(fmt.Sprintf("unknown category %q", rec.Category))
		}
		strat, ok := rc.Strategies.ForDomain(msg.Domain())
		if !ok {
			return nil, errors.NewIneligible("no strategy configured")
		}
		rendered, err = strat.Render(msg.HTML, cat, *override)
		if err != nil {
			return nil, err
		}
		if err := db.UpdateStaged(rc.DB, rec.Fingerprint, override, rendered); err != nil {
			return nil, err
		}
	}
	if rendered == "" {
		return nil, errors.NewInternal(fmt.Errorf("record %s has no rendered reply", rec.ID))
	}

	return mailbox.BuildReply(msg, compose.Body(rendered, note), mailbox.ReplyOptions{
		From:         rc.From,
		RedirectTo:   rc.Config.RedirectTo,
		OwnAddresses: rc.Config.OwnAddresses,
		Now:          rc.now(),
	})
}
