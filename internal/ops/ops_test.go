package ops

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/quotedesk/internal/db"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/record"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func stageTestRecord(t *testing.T, database *sql.DB, id, subject, category string) *record.MessageRecord {
	t.Helper()
	sent := time.Date(2025, 6, 25, 9, 0, 0, 0, time.UTC)
	in := &record.Inbound{
		TransportID: id,
		MessageID:   "<" + id + "@bank.example.com>",
		Subject:     subject,
		FromAddr:    "trader@bank.example.com",
		To:          []string{"desk@example.com"},
		SentAt:      sent,
		Category:    category,
	}
	payload, err := record.EncodeSnapshot(in)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	html := "<p>*1.000</p>"
	r := &record.MessageRecord{
		ID:           id,
		Fingerprint:  in.Fingerprint(),
		Category:     category,
		Sender:       in.FromAddr,
		Subject:      subject,
		ReceivedAt:   sent.Unix(),
		RawPayload:   payload,
		RenderedHTML: &html,
	}
	if _, err := db.Stage(database, r); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	return r
}

func TestParseRef(t *testing.T) {
	fp := strings.Repeat("ab", 32)

	tests := []struct {
		name    string
		input   string
		wantFP  bool
		want    string
		wantErr bool
	}{
		{"fingerprint", fp, true, fp, false},
		{"uppercase fingerprint", strings.ToUpper(fp), true, fp, false},
		{"ulid", "01hzx3k5q8t9v0w1y2z3a4b5c6", false, "01HZX3K5Q8T9V0W1Y2Z3A4B5C6", false},
		{"trimmed", "  01ABC  ", false, "01ABC", false},
		{"empty", "   ", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.input)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidRequest) {
					t.Errorf("error = %v, want INVALID_REQUEST", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRef error = %v", err)
			}
			if ref.ByFingerprint != tt.wantFP || ref.Value != tt.want {
				t.Errorf("ParseRef = %+v, want fp=%v value=%q", ref, tt.wantFP, tt.want)
			}
		})
	}
}

func TestList_Filters(t *testing.T) {
	database := openTestDB(t)
	stageTestRecord(t, database, "01A", "Quote Request A", "Ladder-Call")
	stageTestRecord(t, database, "01B", "Quote Request B", "Ladder-Call")
	stageTestRecord(t, database, "01C", "Quote Request C", "Binary-Call")

	output, err := List(database, ListInput{Category: "Ladder-Call"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(output.Items) != 2 {
		t.Errorf("len(Items) = %d, want 2", len(output.Items))
	}
	if output.Pagination.Limit != DefaultListLimit {
		t.Errorf("Limit = %d, want %d", output.Pagination.Limit, DefaultListLimit)
	}
	if output.Sort != "updated_at_desc" {
		t.Errorf("Sort = %q, want 'updated_at_desc'", output.Sort)
	}

	output, err = List(database, ListInput{State: "processed"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if output.Items == nil || len(output.Items) != 0 {
		t.Errorf("Items = %v, want empty non-nil slice", output.Items)
	}
}

func TestList_LimitBoundsAndHasMore(t *testing.T) {
	database := openTestDB(t)
	stageTestRecord(t, database, "01A", "Quote Request A", "Ladder-Call")
	stageTestRecord(t, database, "01B", "Quote Request B", "Ladder-Call")

	output, err := List(database, ListInput{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !output.Pagination.HasMore {
		t.Error("HasMore = false, want true")
	}

	output, err = List(database, ListInput{Limit: 1000})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if output.Pagination.Limit != MaxListLimit {
		t.Errorf("Limit = %d, want %d", output.Pagination.Limit, MaxListLimit)
	}
}

func TestList_InvalidState(t *testing.T) {
	database := openTestDB(t)

	_, err := List(database, ListInput{State: "sent"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestShow_ByIDAndFingerprint(t *testing.T) {
	database := openTestDB(t)
	r := stageTestRecord(t, database, "01A", "Quote Request A", "Ladder-Call")

	byID, err := Show(database, ShowInput{Ref: "01A"})
	if err != nil {
		t.Fatalf("Show(id) failed: %v", err)
	}
	if byID.Fingerprint != r.Fingerprint {
		t.Errorf("Fingerprint = %q, want %q", byID.Fingerprint, r.Fingerprint)
	}
	if !byID.HasPayload {
		t.Error("HasPayload = false, want true")
	}
	if byID.MessageID != "<01A@bank.example.com>" {
		t.Errorf("MessageID = %q", byID.MessageID)
	}
	if byID.RenderedHTML != nil {
		t.Error("RenderedHTML should be omitted unless requested")
	}

	byFP, err := Show(database, ShowInput{Ref: r.Fingerprint, IncludeHTML: true})
	if err != nil {
		t.Fatalf("Show(fingerprint) failed: %v", err)
	}
	if byFP.ID != "01A" {
		t.Errorf("ID = %q, want 01A", byFP.ID)
	}
	if byFP.RenderedHTML == nil {
		t.Error("RenderedHTML should be included")
	}

	if _, err := Show(database, ShowInput{Ref: "01MISSING"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Show(missing) = %v, want NOT_FOUND", err)
	}
}

func TestReset(t *testing.T) {
	database := openTestDB(t)
	r := stageTestRecord(t, database, "01A", "Quote Request A", "Ladder-Call")
	if _, err := db.Transition(database, []string{r.Fingerprint}, record.StateManual); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	output, err := Reset(context.Background(), database, ResetInput{Ref: "01A"})
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if output.PreviousState != record.StateManual || output.State != record.StateUnprocessed {
		t.Errorf("Reset = %s -> %s, want manual -> unprocessed", output.PreviousState, output.State)
	}
	if output.Message != "Record 01A reset from manual to unprocessed" {
		t.Errorf("Message = %q", output.Message)
	}

	output, err = Reset(context.Background(), database, ResetInput{Ref: "01A"})
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if output.Message != "Record 01A was already unprocessed" {
		t.Errorf("Message = %q", output.Message)
	}
}

func TestPurge(t *testing.T) {
	database := openTestDB(t)
	stageTestRecord(t, database, "01A", "Quote Request A", "Ladder-Call")
	if _, err := database.Exec(`UPDATE message_records SET created_at = ? WHERE id = '01A'`,
		time.Now().AddDate(0, 0, -10).Unix()); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	stageTestRecord(t, database, "01B", "Quote Request B", "Ladder-Call")

	output, err := Purge(context.Background(), database, PurgeInput{OlderThanDays: 7})
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if output.Purged != 1 {
		t.Errorf("Purged = %d, want 1", output.Purged)
	}
	if output.Message != "Permanently deleted 1 record (created more than 7 days ago)" {
		t.Errorf("Message = %q", output.Message)
	}

	output, err = Purge(context.Background(), database, PurgeInput{OlderThanDays: 7})
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if output.Message != "No records to purge" {
		t.Errorf("Message = %q", output.Message)
	}
}

func TestPurge_Validation(t *testing.T) {
	database := openTestDB(t)

	tests := []struct {
		name  string
		input PurgeInput
	}{
		{"zero days", PurgeInput{}},
		{"negative days", PurgeInput{OlderThanDays: -1}},
		{"bad state", PurgeInput{OlderThanDays: 7, State: "deleted"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Purge(context.Background(), database, tt.input); !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestClear(t *testing.T) {
	database := openTestDB(t)
	stageTestRecord(t, database, "01A", "Quote Request A", "Ladder-Call")
	stageTestRecord(t, database, "01B", "Quote Request B", "Ladder-Call")

	if _, err := Clear(context.Background(), database, ClearInput{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Clear without confirm = %v, want INVALID_REQUEST", err)
	}

	output, err := Clear(context.Background(), database, ClearInput{Confirm: true})
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if output.Cleared != 2 || output.Message != "Deleted 2 records" {
		t.Errorf("Clear = %+v", output)
	}
}

func TestReport(t *testing.T) {
	database := openTestDB(t)
	a := stageTestRecord(t, database, "01A", "Quote Request A", "Ladder-Call")
	b := stageTestRecord(t, database, "01B", "Quote Request B", "Ladder-Call")
	stageTestRecord(t, database, "01C", "Quote Request C", "Ladder-Call")
	if _, err := db.Transition(database, []string{a.Fingerprint}, record.StateProcessed); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if _, err := db.Transition(database, []string{b.Fingerprint}, record.StateManual); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	output, err := Report(database, ReportInput{})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if output.Processed != 1 || output.Manual != 1 || output.Unprocessed != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", output.Processed, output.Manual, output.Unprocessed)
	}
	if len(output.Sent) != 1 || output.Sent[0].ID != "01A" {
		t.Errorf("Sent = %+v, want 01A", output.Sent)
	}
	if !strings.HasPrefix(output.Message, "1 reply sent since") {
		t.Errorf("Message = %q", output.Message)
	}
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	got := StartOfDay(time.Date(2025, 6, 25, 17, 45, 3, 9, loc))
	want := time.Date(2025, 6, 25, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("StartOfDay = %v, want %v", got, want)
	}
}
