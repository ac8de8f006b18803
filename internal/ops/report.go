package ops

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/record"
)

// ReportInput contains parameters for the Report operation.
type ReportInput struct {
	// Since is the start of the reporting window; zero means local midnight today.
	Since time.Time
}

// ReportOutput summarizes the store and lists replies sent since the window start.
type ReportOutput struct {
	Since       int64                  `json:"since"`
	Unprocessed int                    `json:"unprocessed"`
	Processed   int                    `json:"processed"`
	Manual      int                    `json:"manual"`
	Sent        []record.MessageRecord `json:"sent"`
	Message     string                 `json:"message"`
}

// Report counts records by state and lists the records processed since the window start.
func Report(database *sql.DB, input ReportInput) (*ReportOutput, error) {
	since := input.Since
	if since.IsZero() {
		since = StartOfDay(time.Now())
	}

	counts, err := db.CountByState(database)
	if err != nil {
		return nil, err
	}
	sent, err := db.ListProcessedSince(database, since.Unix())
	if err != nil {
		return nil, err
	}
	if sent == nil {
		sent = []record.MessageRecord{}
	}
	for i := range sent {
		sent[i].RenderedHTML = nil
	}

	replyWord := "replies"
	if len(sent) == 1 {
		replyWord = "reply"
	}

	return &ReportOutput{
		Since:       since.Unix(),
		Unprocessed: counts[record.StateUnprocessed],
		Processed:   counts[record.StateProcessed],
		Manual:      counts[record.StateManual],
		Sent:        sent,
		Message: fmt.Sprintf("%d %s sent since %s; %d awaiting confirmation",
			len(sent), replyWord, since.Format("2006-01-02 15:04"), counts[record.StateUnprocessed]),
	}, nil
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
