package pipeline

import (
	"time"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/ops"
	"github.com/hpungsan/quotedesk/internal/workbook"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	skipHeader   = []string{"Subject", "Sender", "Reason", "Sent", "Logged"}
	quotedHeader = []string{"Subject", "Sender", "Category", "Quote", "Sent", "Replied"}
)

// flushReports rewrites the skipped, hold and quoted-today sheets.
func flushReports(rc *RunContext) error {
	reports := rc.Config.Reports

	if err := rc.Workbook.WriteReport(reports.Skipped, workbook.TabRed, skipHeader,
		skipRows(rc.Skips.Entries(SkipKindSkipped))); err != nil {
		return err
	}
	if err := rc.Workbook.WriteReport(reports.Hold, workbook.TabYellow, skipHeader,
		skipRows(rc.Skips.Entries(SkipKindHold))); err != nil {
		return err
	}

	quoted, err := db.ListProcessedSince(rc.DB, ops.StartOfDay(rc.now()).Unix())
	if err != nil {
		return err
	}
	rows := make([][]any, 0, len(quoted))
	for _, r := range quoted {
		var quote any
		if r.QuoteValue != nil {
			quote = *r.QuoteValue
		}
		rows = append(rows, []any{
			r.Subject, r.Sender, r.Category, quote,
			formatUnix(r.ReceivedAt), formatUnix(r.UpdatedAt),
		})
	}
	return rc.Workbook.WriteReport(reports.Quoted, workbook.TabGreen, quotedHeader, rows)
}

func skipRows(entries []SkipEntry) [][]any {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		sent := ""
		if !e.SentAt.IsZero() {
			sent = e.SentAt.Local().Format(timeLayout)
		}
		rows = append(rows, []any{e.Subject, e.Sender, e.Reason, sent, e.LoggedAt.Local().Format(timeLayout)})
	}
	return rows
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).Local().Format(timeLayout)
}
