package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/extract"
	"github.com/hpungsan/quotedesk/internal/mailbox"
	"github.com/hpungsan/quotedesk/internal/record"
	"github.com/hpungsan/quotedesk/internal/workbook"
)

// StageSummary counts what happened to the fetched messages.
type StageSummary struct {
	RunID     string `json:"run_id"`
	Fetched   int    `json:"fetched"`
	Ignored   int    `json:"ignored"`
	Staged    int    `json:"staged"`
	Refreshed int    `json:"refreshed"`
	Skipped   int    `json:"skipped"`
	Held      int    `json:"held"`
}

// sheetState is the per-category workbook layout discovered at the start of a run.
// A sheet is opened the first time it receives an eligible message in the run.
type sheetState struct {
	markerRow int
	problem   string
	opened    bool
	// pending maps the fingerprint of a record still awaiting approval to its column
	pending map[string]string
}

// Stage runs Phase A. Per-message problems are logged to the skip log and the run
// continues; fetch, store and workbook save failures abort the run.
func Stage(ctx context.Context, rc *RunContext, since time.Time) (*StageSummary, error) {
	log := rc.Log.With(zap.String("phase", "stage"))
	sum := &StageSummary{RunID: rc.ID}

	raws, err := rc.Fetcher.Fetch(ctx, since)
	if err != nil {
		return nil, errors.NewTransport("fetch", err)
	}
	sum.Fetched = len(raws)
	log.Info("fetched messages", zap.Int("count", len(raws)), zap.Time("since", since))

	sheets, err := prepareSheets(rc)
	if err != nil {
		return nil, eris.Wrap(err, "prepare category sheets")
	}

	s := &stager{
		rc:     rc,
		log:    log,
		filter: NewFilter(rc.Config, rc.Strategies, rc.DB),
		slots:  NewAllocator(),
		sheets: sheets,
		since:  since,
		sum:    sum,
	}
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.stageOne(raw); err != nil {
			return nil, err
		}
	}

	if err := flushReports(rc); err != nil {
		return nil, eris.Wrap(err, "write reports")
	}
	if err := rc.Workbook.Save(); err != nil {
		return nil, err
	}

	log.Info("stage done",
		zap.Int("staged", sum.Staged), zap.Int("refreshed", sum.Refreshed),
		zap.Int("skipped", sum.Skipped), zap.Int("held", sum.Held))
	return sum, nil
}

// prepareSheets locates the approval marker of every category sheet. Slot columns are
// left alone until the sheet receives an eligible message; see openSheet.
func prepareSheets(rc *RunContext) (map[string]*sheetState, error) {
	sheets := make(map[string]*sheetState, len(rc.Config.Categories))
	for i := range rc.Config.Categories {
		cat := &rc.Config.Categories[i]
		st := &sheetState{}
		sheets[cat.Name] = st

		if !rc.Workbook.HasSheet(cat.Name) {
			st.problem = fmt.Sprintf("workbook has no sheet %q", cat.Name)
			continue
		}
		row, err := rc.Workbook.FindMarkerRow(cat.Name, rc.Config.Approval.MarkerLabel)
		if err != nil {
			return nil, err
		}
		if row == 0 {
			st.problem = fmt.Sprintf("sheet %q has no approval marker", cat.Name)
			continue
		}
		st.markerRow = row
	}
	return sheets, nil
}

type stager struct {
	rc     *RunContext
	log    *zap.Logger
	filter *Filter
	slots  *Allocator
	sheets map[string]*sheetState
	since  time.Time
	sum    *StageSummary
}

func (s *stager) skip(kind SkipKind, msg *record.Inbound, reason string) {
	s.rc.Skips.Add(kind, msg, reason, s.rc.now())
	if kind == SkipKindHold {
		s.sum.Held++
	} else {
		s.sum.Skipped++
	}
	fields := []zap.Field{zap.String("reason", reason)}
	if msg != nil {
		fields = append(fields, zap.String("subject", msg.Subject), zap.String("sender", msg.FromAddr))
	}
	s.log.Info("message not staged", fields...)
}

// stageOne handles one fetched message. Only store failures are returned.
func (s *stager) stageOne(raw mailbox.Raw) error {
	cfg := s.rc.Config

	msg, err := mailbox.Parse(raw)
	if msg == nil {
		s.skip(SkipKindSkipped, &record.Inbound{Subject: "(unreadable " + raw.ID + ")"}, err.Error())
		return nil
	}

	if !containsFold(msg.Subject, cfg.SubjectKeyword) {
		s.sum.Ignored++
		s.log.Debug("not an inquiry", zap.String("subject", msg.Subject))
		return nil
	}
	if stderrors.Is(err, mailbox.ErrNoDate) {
		s.skip(SkipKindSkipped, msg, "sent time could not be parsed")
		return nil
	}
	if err != nil {
		s.skip(SkipKindSkipped, msg, err.Error())
		return nil
	}
	if !s.since.IsZero() && msg.SentAt.Before(s.since) {
		s.sum.Ignored++
		return nil
	}
	if cfg.HoldKeyword != "" && containsFold(msg.Subject, cfg.HoldKeyword) {
		s.skip(SkipKindHold, msg, "hold requested")
		return nil
	}

	cat, ok := cfg.CategoryForSubject(msg.Subject)
	if !ok {
		s.skip(SkipKindSkipped, msg, "no category matches subject")
		return nil
	}
	msg.Category = cat.Name
	sheet := s.sheets[cat.Name]
	if sheet.problem != "" {
		s.skip(SkipKindSkipped, msg, sheet.problem)
		return nil
	}

	fields, err := extract.Table(msg.HTML)
	if err != nil {
		s.skip(SkipKindSkipped, msg, "no usable table")
		return nil
	}
	msg.Fields = fields

	decision, err := s.filter.Check(msg, cat)
	if err != nil {
		return err
	}
	if decision.Outcome != Eligible {
		s.skip(SkipKindSkipped, msg, decision.Reason)
		return nil
	}

	if !sheet.opened {
		if err := s.openSheet(cat, sheet); err != nil {
			return err
		}
	}
	col, ok := sheet.pending[msg.Fingerprint()]
	if !ok {
		slot := s.slots.Next(cat.Name)
		col, err = s.slots.Column(cat, slot)
		if err != nil {
			s.skip(SkipKindSkipped, msg, reasonOf(err))
			return nil
		}
	}

	_, _, template := cat.Columns()
	if err := s.rc.Workbook.PrepareSlot(cat.Name, template, col); err != nil {
		s.skip(SkipKindSkipped, msg, reasonOf(errors.NewComputeFailed(cat.Name, err)))
		return nil
	}
	quote, err := decision.Strategy.Compute(s.rc.Workbook, cat, col, fields)
	if err != nil {
		s.skip(SkipKindSkipped, msg, "compute failed: "+reasonOf(err))
		return nil
	}
	rendered, err := decision.Strategy.Render(msg.HTML, cat, quote)
	if err != nil {
		s.skip(SkipKindSkipped, msg, reasonOf(err))
		return nil
	}

	return s.persist(msg, cat, col, sheet.markerRow, quote, rendered)
}

// openSheet readies a category sheet for new slots. A column whose fingerprint belongs
// to a record still UNPROCESSED keeps its content and is reserved, so the record stays
// approvable; every other slot column is cleared.
func (s *stager) openSheet(cat *config.Category, sheet *sheetState) error {
	wb := s.rc.Workbook
	sheet.opened = true
	sheet.pending = make(map[string]string)

	start, last, _ := cat.Columns()
	for i := 0; ; i++ {
		col, ok, err := workbook.Column(start, i, last)
		if err != nil {
			return errors.NewConfig(err.Error())
		}
		if !ok {
			break
		}
		fp, err := wb.Read(cat.Name, cell(col, sheet.markerRow+fingerprintOffset))
		if err != nil {
			return err
		}
		fp = strings.ToLower(strings.TrimSpace(fp))
		if fp != "" {
			state, found, err := db.LookupState(s.rc.DB, fp)
			if err != nil {
				return err
			}
			if found && state == record.StateUnprocessed {
				sheet.pending[fp] = col
				s.slots.Reserve(cat.Name, col)
				continue
			}
		}
		if err := wb.ClearColumns(cat.Name, col, col); err != nil {
			return err
		}
	}
	if len(sheet.pending) > 0 {
		s.log.Info("kept columns awaiting approval",
			zap.String("category", cat.Name), zap.Int("count", len(sheet.pending)))
	}
	return nil
}

func (s *stager) persist(msg *record.Inbound, cat *config.Category, col string, markerRow int, quote float64, rendered string) error {
	payload, err := record.EncodeSnapshot(msg)
	if err != nil {
		return errors.NewInternal(err)
	}
	id, err := record.NewID()
	if err != nil {
		return errors.NewInternal(err)
	}

	rec := &record.MessageRecord{
		ID:              id,
		Fingerprint:     msg.Fingerprint(),
		Category:        cat.Name,
		Sender:          msg.FromAddr,
		Subject:         msg.Subject,
		ReceivedAt:      msg.SentAt.Unix(),
		RawPayload:      payload,
		ExtractedFields: msg.Fields,
		QuoteValue:      &quote,
		RenderedHTML:    &rendered,
		SlotColumn:      &col,
	}
	outcome, err := db.Stage(s.rc.DB, rec)
	if err != nil {
		return err
	}
	if outcome == db.StageFinalized {
		s.skip(SkipKindSkipped, msg, "already handled")
		return nil
	}

	wb := s.rc.Workbook
	if err := wb.Write(cat.Name, cell(col, markerRow+fingerprintOffset), rec.Fingerprint); err != nil {
		return eris.Wrapf(err, "write fingerprint for %s", rec.ID)
	}
	if err := wb.Write(cat.Name, cell(col, markerRow+subjectOffset), msg.Subject); err != nil {
		return eris.Wrapf(err, "write subject for %s", rec.ID)
	}

	if outcome == db.StageRefreshed {
		s.sum.Refreshed++
	} else {
		s.sum.Staged++
	}
	s.log.Info("staged",
		zap.String("id", rec.ID), zap.String("category", cat.Name), zap.String("column", col),
		zap.Float64("quote", quote), zap.Stringer("outcome", outcome))
	return nil
}

func reasonOf(err error) string {
	if qe, ok := errors.As(err); ok {
		return qe.Message
	}
	return err.Error()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
