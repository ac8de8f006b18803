package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/mailbox"
	"github.com/hpungsan/quotedesk/internal/workbook"
)

const (
	testSheet  = "Ladder-Call"
	markerRow  = 12
	bankDomain = "bank.example.com"
)

var sentA = time.Date(2025, 6, 25, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Senders = map[string]string{bankDomain: "grid"}
	cfg.Categories = []config.Category{{
		Name:            testSheet,
		Keywords:        []string{"Quote Request"},
		QuoteLabel:      "Strike 1 (Low)",
		QuoteRow:        9,
		UnderlyingLabel: "Underlying Contract",
		AllowedPrefixes: []string{"AU", "XAU"},
		Fields: []config.FieldRule{
			{Label: "Underlying Contract", Row: 3, Transform: config.TransformUnderlying},
			{Label: "Notional", Row: 4, Transform: config.TransformNumber},
		},
		Derived: config.Derived{TradeDateRow: 8, DateBasisPrefix: "AU", TenorRow: 5, VolRow: 6, RateRow: 7},
		Format:  config.QuoteFormat{Decimals: 3, Prefix: "*"},
	}}
	cfg.OwnAddresses = []string{"desk@quotes.example.com"}
	return cfg
}

// newTestWorkbook builds a category sheet whose template column prices
// quote = notional*vol + rate, with the approval marker on row 12.
func newTestWorkbook(t *testing.T, cfg *config.Config) *workbook.Workbook {
	t.Helper()
	w := workbook.New(filepath.Join(t.TempDir(), "valuation.xlsx"))
	f := w.File()
	if _, err := f.NewSheet(testSheet); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	cells := map[string]any{
		"A3": "Underlying Contract", "A4": "Notional", "A5": "Tenor", "B5": 0.5,
		"A6": "Vol", "A7": "Rate", "A8": "Trade date", "A9": "Quote",
		fmt.Sprintf("A%d", markerRow): cfg.Approval.MarkerLabel,
	}
	for cell, v := range cells {
		if err := f.SetCellValue(testSheet, cell, v); err != nil {
			t.Fatalf("SetCellValue(%s): %v", cell, err)
		}
	}
	for cell, formula := range map[string]string{"B8": "$C$1", "B9": "B4*B6+B7"} {
		if err := f.SetCellFormula(testSheet, cell, formula); err != nil {
			t.Fatalf("SetCellFormula(%s): %v", cell, err)
		}
	}
	return w
}

// reopen saves wb and loads it again from disk, the way every CLI run starts.
func reopen(t *testing.T, wb *workbook.Workbook) *workbook.Workbook {
	t.Helper()
	if err := wb.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	wb.Close()
	fresh, err := workbook.Open(wb.Path())
	if err != nil {
		t.Fatalf("workbook.Open: %v", err)
	}
	t.Cleanup(func() { fresh.Close() })
	return fresh
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

const inquiryTable = `<table>
<tr><td>Underlying Contract</td><td><p>Gold (au2512)</p></td></tr>
<tr><td>Notional</td><td><p>100</p></td></tr>
<tr><td>Strike 1 (Low)</td><td><p></p></td></tr>
</table>`

func inquiry(id, subject, from string, sent time.Time, body string) mailbox.Raw {
	raw := "From: Trader <" + from + ">\r\n" +
		"To: desk@quotes.example.com\r\n" +
		"Cc: sales@" + bankDomain + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + sent.Format(time.RFC1123Z) + "\r\n" +
		"Message-ID: <" + id + "@" + bankDomain + ">\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" + body + "\r\n"
	return mailbox.Raw{ID: id, Data: []byte(raw)}
}

type fakeFetcher struct {
	raws []mailbox.Raw
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, time.Time) ([]mailbox.Raw, error) {
	return f.raws, f.err
}

// fakeSender fails each fingerprint in failures that many times before succeeding.
type fakeSender struct {
	mu       sync.Mutex
	failures map[string]int
	sent     []*mailbox.Outgoing
}

func (s *fakeSender) Send(_ context.Context, out *mailbox.Outgoing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[out.Fingerprint] > 0 {
		s.failures[out.Fingerprint]--
		return fmt.Errorf("451 try again later")
	}
	s.sent = append(s.sent, out)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newRun(cfg *config.Config, database *sql.DB, wb Workbook, fetcher Fetcher, sender Sender) *RunContext {
	rc := NewRunContext(cfg, database, zap.NewNop())
	rc.Workbook = wb
	rc.Fetcher = fetcher
	rc.Sender = sender
	rc.From = "desk@quotes.example.com"
	return rc
}
