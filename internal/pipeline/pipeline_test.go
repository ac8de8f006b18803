package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/mailbox"
	"github.com/hpungsan/quotedesk/internal/record"
)

const trader = "trader@" + bankDomain

func TestStage_DuplicateInRunStagesOnce(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	ctx := context.Background()

	raws := []mailbox.Raw{
		inquiry("m1", "Quote Request A", trader, sentA, inquiryTable),
		inquiry("m2", "Quote Request A", trader, sentA, inquiryTable),
	}
	rc := newRun(cfg, database, wb, &fakeFetcher{raws: raws}, nil)

	sum, err := Stage(ctx, rc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 1, sum.Staged)
	assert.Equal(t, 1, sum.Skipped)

	skipped := rc.Skips.Entries(SkipKindSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "duplicate of an earlier message in this run", skipped[0].Reason)

	fp := record.Fingerprint("Quote Request A", sentA)
	rec, err := db.GetByFingerprint(database, fp)
	require.NoError(t, err)
	assert.Equal(t, record.StateUnprocessed, rec.State)
	require.NotNil(t, rec.QuoteValue)
	assert.InDelta(t, 16.015, *rec.QuoteValue, 1e-9)
	require.NotNil(t, rec.SlotColumn)
	assert.Equal(t, "C", *rec.SlotColumn)
	require.NotNil(t, rec.RenderedHTML)
	assert.Contains(t, *rec.RenderedHTML, "*16.015")

	counts, err := db.CountByState(database)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[record.StateUnprocessed])

	// A later run sees the same message again and refreshes the staged record in place.
	wb = reopen(t, wb)
	rc2 := newRun(cfg, database, wb, &fakeFetcher{raws: raws[:1]}, nil)
	sum2, err := Stage(ctx, rc2, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum2.Staged)
	assert.Equal(t, 1, sum2.Refreshed)

	again, err := db.GetByFingerprint(database, fp)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	require.NotNil(t, again.SlotColumn)
	assert.Equal(t, "C", *again.SlotColumn)

	got, err := wb.Read(testSheet, cell("C", markerRow+fingerprintOffset))
	require.NoError(t, err)
	assert.Equal(t, fp, got)
	empty, err := wb.Read(testSheet, cell("D", markerRow+fingerprintOffset))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStage_SlotsAreAssignedInOrder(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)

	subjects := []string{"Quote Request A", "Quote Request B", "Quote Request C"}
	var raws []mailbox.Raw
	for i, s := range subjects {
		raws = append(raws, inquiry(s, s, trader, sentA.Add(time.Duration(i)*time.Minute), inquiryTable))
	}
	rc := newRun(cfg, database, wb, &fakeFetcher{raws: raws}, nil)

	sum, err := Stage(context.Background(), rc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Staged)

	for i, col := range []string{"C", "D", "E"} {
		fp := record.Fingerprint(subjects[i], sentA.Add(time.Duration(i)*time.Minute))

		rec, err := db.GetByFingerprint(database, fp)
		require.NoError(t, err)
		require.NotNil(t, rec.SlotColumn)
		assert.Equal(t, col, *rec.SlotColumn)

		got, err := wb.Read(testSheet, cell(col, markerRow+fingerprintOffset))
		require.NoError(t, err)
		assert.Equal(t, fp, got)

		subject, err := wb.Read(testSheet, cell(col, markerRow+subjectOffset))
		require.NoError(t, err)
		assert.Equal(t, subjects[i], subject)

		quote, err := wb.Read(testSheet, cell(col, 9))
		require.NoError(t, err)
		assert.Equal(t, "16.015", quote)
	}
}

func TestStage_ComputeFailureDoesNotStopRun(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	ctx := context.Background()

	sentB := sentA.Add(time.Minute)
	broken := strings.Replace(inquiryTable, "<p>100</p>", "<p>lots</p>", 1)
	rc := newRun(cfg, database, wb, &fakeFetcher{raws: []mailbox.Raw{
		inquiry("a", "Quote Request A", trader, sentA, broken),
		inquiry("b", "Quote Request B", trader, sentB, inquiryTable),
	}}, nil)

	sum, err := Stage(ctx, rc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Staged)
	assert.Equal(t, 1, sum.Skipped)

	skipped := rc.Skips.Entries(SkipKindSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "Quote Request A", skipped[0].Subject)
	assert.True(t, strings.HasPrefix(skipped[0].Reason, "compute failed"), skipped[0].Reason)

	fpA := record.Fingerprint("Quote Request A", sentA)
	_, err = db.GetByFingerprint(database, fpA)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "failed message must not be recorded: %v", err)

	// The failed compute used column C; the good message went to D.
	b, err := db.GetByFingerprint(database, record.Fingerprint("Quote Request B", sentB))
	require.NoError(t, err)
	require.NotNil(t, b.SlotColumn)
	assert.Equal(t, "D", *b.SlotColumn)

	// A corrected copy is picked up by the next run; B keeps its column.
	wb = reopen(t, wb)
	sum, err = Stage(ctx, newRun(cfg, database, wb, &fakeFetcher{raws: []mailbox.Raw{
		inquiry("a", "Quote Request A", trader, sentA, inquiryTable),
	}}, nil), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Staged)

	a, err := db.GetByFingerprint(database, fpA)
	require.NoError(t, err)
	require.NotNil(t, a.SlotColumn)
	assert.Equal(t, "C", *a.SlotColumn)
	got, err := wb.Read(testSheet, cell("D", markerRow+fingerprintOffset))
	require.NoError(t, err)
	assert.Equal(t, b.Fingerprint, got)
}

func TestStage_SlotRangeExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Categories[0].LastColumn = "D"
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)

	var raws []mailbox.Raw
	for i, s := range []string{"Quote Request A", "Quote Request B", "Quote Request C"} {
		raws = append(raws, inquiry(s, s, trader, sentA.Add(time.Duration(i)*time.Minute), inquiryTable))
	}
	rc := newRun(cfg, database, wb, &fakeFetcher{raws: raws}, nil)

	sum, err := Stage(context.Background(), rc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Staged)
	assert.Equal(t, 1, sum.Skipped)

	skipped := rc.Skips.Entries(SkipKindSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "Quote Request C", skipped[0].Subject)
	assert.Contains(t, skipped[0].Reason, "slot")
}

func TestStage_SkipsAndHolds(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)

	filled := strings.Replace(inquiryTable, "<p></p>", "<p>4.2</p>", 1)
	badDate := mailbox.Raw{ID: "bad", Data: []byte("From: trader@" + bankDomain + "\r\n" +
		"Subject: Quote Request bad date\r\n" +
		"Date: not a date\r\n" +
		"Content-Type: text/html\r\n\r\n" + inquiryTable + "\r\n")}

	raws := []mailbox.Raw{
		inquiry("ok", "Quote Request A", trader, sentA, inquiryTable),
		inquiry("noise", "Lunch on Friday", trader, sentA, "<p>hi</p>"),
		inquiry("hold", "Quote Request B - HOLD", trader, sentA, inquiryTable),
		inquiry("stranger", "Quote Request C", "someone@elsewhere.example.org", sentA, inquiryTable),
		inquiry("filled", "Quote Request D", trader, sentA, filled),
		inquiry("notable", "Quote Request E", trader, sentA, "<p>no table here</p>"),
		badDate,
	}
	rc := newRun(cfg, database, wb, &fakeFetcher{raws: raws}, nil)

	sum, err := Stage(context.Background(), rc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Staged)
	assert.Equal(t, 1, sum.Ignored)
	assert.Equal(t, 1, sum.Held)
	assert.Equal(t, 4, sum.Skipped)

	reasons := make(map[string]string)
	for _, e := range rc.Skips.Entries(SkipKindSkipped) {
		reasons[e.Subject] = e.Reason
	}
	assert.Equal(t, "no strategy configured", reasons["Quote Request C"])
	assert.Equal(t, "all fields filled", reasons["Quote Request D"])
	assert.Equal(t, "no usable table", reasons["Quote Request E"])
	assert.Equal(t, "sent time could not be parsed", reasons["Quote Request bad date"])

	holds := rc.Skips.Entries(SkipKindHold)
	require.Len(t, holds, 1)
	assert.Equal(t, "Quote Request B - HOLD", holds[0].Subject)

	// Reports land in the workbook: one header row plus one row per entry.
	got, err := wb.Read(cfg.Reports.Hold, "A2")
	require.NoError(t, err)
	assert.Equal(t, "Quote Request B - HOLD", got)
	rows, err := wb.File().GetRows(cfg.Reports.Skipped)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, skipHeader, rows[0])
	assert.True(t, wb.HasSheet(cfg.Reports.Quoted))
}

func TestStage_MissingMarker(t *testing.T) {
	cfg := testConfig()
	cfg.Approval.MarkerLabel = "Nowhere to be found"
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	require.NoError(t, wb.Write(testSheet, cell("A", markerRow), "something else"))

	rc := newRun(cfg, database, wb, &fakeFetcher{raws: []mailbox.Raw{
		inquiry("m1", "Quote Request A", trader, sentA, inquiryTable),
	}}, nil)

	sum, err := Stage(context.Background(), rc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Staged)
	require.Len(t, rc.Skips.Entries(SkipKindSkipped), 1)
	assert.Contains(t, rc.Skips.Entries(SkipKindSkipped)[0].Reason, "no approval marker")
}

func TestStage_SinceFiltersOlderMessages(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)

	rc := newRun(cfg, database, wb, &fakeFetcher{raws: []mailbox.Raw{
		inquiry("old", "Quote Request old", trader, sentA.Add(-48*time.Hour), inquiryTable),
		inquiry("new", "Quote Request new", trader, sentA, inquiryTable),
	}}, nil)

	sum, err := Stage(context.Background(), rc, sentA.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Staged)
	assert.Equal(t, 1, sum.Ignored)
}

func TestStage_FetchFailureAborts(t *testing.T) {
	cfg := testConfig()
	rc := newRun(cfg, openTestDB(t), newTestWorkbook(t, cfg), &fakeFetcher{err: context.DeadlineExceeded}, nil)

	_, err := Stage(context.Background(), rc, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch")
}

// stageTwo stages "Quote Request A" into column C and "Quote Request B" into column D.
func stageTwo(t *testing.T, rc *RunContext) (fpA, fpB string) {
	t.Helper()
	sentB := sentA.Add(time.Minute)
	rc.Fetcher = &fakeFetcher{raws: []mailbox.Raw{
		inquiry("a", "Quote Request A", trader, sentA, inquiryTable),
		inquiry("b", "Quote Request B", trader, sentB, inquiryTable),
	}}
	sum, err := Stage(context.Background(), rc, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Staged)
	return record.Fingerprint("Quote Request A", sentA), record.Fingerprint("Quote Request B", sentB)
}

func TestConfirmAndSend_ApproveWithOverrideAndReject(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	sender := &fakeSender{}

	fpA, fpB := stageTwo(t, newRun(cfg, database, wb, nil, sender))
	wb = reopen(t, wb)

	require.NoError(t, wb.Write(testSheet, cell("C", markerRow), "yes"))
	require.NoError(t, wb.Write(testSheet, cell("C", markerRow+overrideOffset), 0.125))
	require.NoError(t, wb.Write(testSheet, cell("D", markerRow), "No"))

	sum, err := ConfirmAndSend(context.Background(), newRun(cfg, database, wb, nil, sender))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Approved)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.Sent)
	assert.Empty(t, sum.Failed)

	a, err := db.GetByFingerprint(database, fpA)
	require.NoError(t, err)
	assert.Equal(t, record.StateProcessed, a.State)
	require.NotNil(t, a.QuoteValue)
	assert.Equal(t, 0.125, *a.QuoteValue)
	require.NotNil(t, a.RenderedHTML)
	assert.Contains(t, *a.RenderedHTML, "*0.125")

	b, err := db.GetByFingerprint(database, fpB)
	require.NoError(t, err)
	assert.Equal(t, record.StateManual, b.State)

	require.Equal(t, 1, sender.count())
	out := sender.sent[0]
	assert.Equal(t, fpA, out.Fingerprint)
	assert.Equal(t, []string{trader, "sales@" + bankDomain}, out.Recipients)
	assert.Contains(t, string(out.Data), "Re: Quote Request A")
}

func TestConfirmAndSend_FailedSendRetriedNextRun(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	sender := &fakeSender{}

	fpA, _ := stageTwo(t, newRun(cfg, database, wb, nil, sender))
	sender.failures = map[string]int{fpA: 1}
	wb = reopen(t, wb)
	require.NoError(t, wb.Write(testSheet, cell("C", markerRow), "yes"))
	wb = reopen(t, wb)

	first, err := ConfirmAndSend(context.Background(), newRun(cfg, database, wb, nil, sender))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Sent)
	assert.Contains(t, first.Failed, fpA)

	rec, err := db.GetByFingerprint(database, fpA)
	require.NoError(t, err)
	assert.Equal(t, record.StateUnprocessed, rec.State)

	wb = reopen(t, wb)
	second, err := ConfirmAndSend(context.Background(), newRun(cfg, database, wb, nil, sender))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Sent)
	assert.Empty(t, second.Failed)

	rec, err = db.GetByFingerprint(database, fpA)
	require.NoError(t, err)
	assert.Equal(t, record.StateProcessed, rec.State)

	// The approval is still on the sheet, but the record is no longer UNPROCESSED.
	wb = reopen(t, wb)
	third, err := ConfirmAndSend(context.Background(), newRun(cfg, database, wb, nil, sender))
	require.NoError(t, err)
	assert.Equal(t, 0, third.Sent)
	assert.Equal(t, 1, third.Missing)
	assert.Equal(t, 1, sender.count())
}

func TestConfirmAndSend_ProcessedShowsInQuotedReport(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	sender := &fakeSender{}

	fpA, _ := stageTwo(t, newRun(cfg, database, wb, nil, sender))
	wb = reopen(t, wb)
	require.NoError(t, wb.Write(testSheet, cell("C", markerRow), "yes"))
	_, err := ConfirmAndSend(context.Background(), newRun(cfg, database, wb, nil, sender))
	require.NoError(t, err)

	rec, err := db.GetByFingerprint(database, fpA)
	require.NoError(t, err)
	require.Equal(t, record.StateProcessed, rec.State)

	// The next stage run rewrites the reports and re-sees the message as finalized.
	wb = reopen(t, wb)
	rc := newRun(cfg, database, wb, &fakeFetcher{raws: []mailbox.Raw{
		inquiry("a", "Quote Request A", trader, sentA, inquiryTable),
	}}, sender)
	sum, err := Stage(context.Background(), rc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Staged)
	assert.Equal(t, 1, sum.Skipped)

	got, err := wb.Read(cfg.Reports.Quoted, "A2")
	require.NoError(t, err)
	assert.Equal(t, "Quote Request A", got)
	category, err := wb.Read(cfg.Reports.Quoted, "C2")
	require.NoError(t, err)
	assert.Equal(t, testSheet, category)
}

func TestStage_KeepsColumnsAwaitingApproval(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	sender := &fakeSender{}
	ctx := context.Background()

	fpA, fpB := stageTwo(t, newRun(cfg, database, wb, nil, sender))

	// A run with nothing to stage leaves the approval region untouched.
	wb = reopen(t, wb)
	sum, err := Stage(ctx, newRun(cfg, database, wb, &fakeFetcher{}, sender), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Staged)

	wb = reopen(t, wb)
	for col, fp := range map[string]string{"C": fpA, "D": fpB} {
		got, err := wb.Read(testSheet, cell(col, markerRow+fingerprintOffset))
		require.NoError(t, err)
		assert.Equal(t, fp, got, "column %s", col)
	}

	// New mail goes to the first column not held by a pending record.
	sentC := sentA.Add(2 * time.Minute)
	sum, err = Stage(ctx, newRun(cfg, database, wb, &fakeFetcher{raws: []mailbox.Raw{
		inquiry("c", "Quote Request C", trader, sentC, inquiryTable),
	}}, sender), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Staged)

	c, err := db.GetByFingerprint(database, record.Fingerprint("Quote Request C", sentC))
	require.NoError(t, err)
	require.NotNil(t, c.SlotColumn)
	assert.Equal(t, "E", *c.SlotColumn)

	wb = reopen(t, wb)
	got, err := wb.Read(testSheet, cell("C", markerRow+fingerprintOffset))
	require.NoError(t, err)
	assert.Equal(t, fpA, got)

	// The record staged two runs ago can still be approved and sent.
	require.NoError(t, wb.Write(testSheet, cell("C", markerRow), "yes"))
	confirmed, err := ConfirmAndSend(ctx, newRun(cfg, database, wb, nil, sender))
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed.Approved)
	assert.Equal(t, 1, confirmed.Sent)

	a, err := db.GetByFingerprint(database, fpA)
	require.NoError(t, err)
	assert.Equal(t, record.StateProcessed, a.State)
}

func TestStage_ReusesColumnsOfFinishedRecords(t *testing.T) {
	cfg := testConfig()
	database := openTestDB(t)
	wb := newTestWorkbook(t, cfg)
	sender := &fakeSender{}
	ctx := context.Background()

	stageTwo(t, newRun(cfg, database, wb, nil, sender))
	wb = reopen(t, wb)
	require.NoError(t, wb.Write(testSheet, cell("C", markerRow), "yes"))
	require.NoError(t, wb.Write(testSheet, cell("D", markerRow), "no"))
	confirmed, err := ConfirmAndSend(ctx, newRun(cfg, database, wb, nil, sender))
	require.NoError(t, err)
	require.Equal(t, 1, confirmed.Sent)
	require.Equal(t, 1, confirmed.Rejected)

	wb = reopen(t, wb)
	sentC := sentA.Add(2 * time.Minute)
	sum, err := Stage(ctx, newRun(cfg, database, wb, &fakeFetcher{raws: []mailbox.Raw{
		inquiry("c", "Quote Request C", trader, sentC, inquiryTable),
	}}, sender), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Staged)

	c, err := db.GetByFingerprint(database, record.Fingerprint("Quote Request C", sentC))
	require.NoError(t, err)
	require.NotNil(t, c.SlotColumn)
	assert.Equal(t, "C", *c.SlotColumn)

	wb = reopen(t, wb)
	mark, err := wb.Read(testSheet, cell("C", markerRow))
	require.NoError(t, err)
	assert.Empty(t, mark, "the old approval must not carry over to the new record")
	old, err := wb.Read(testSheet, cell("D", markerRow+fingerprintOffset))
	require.NoError(t, err)
	assert.Empty(t, old)
}
