package db

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/record"
)

// StageOutcome reports what Stage did with a record.
type StageOutcome int

const (
	// StageInserted means a new UNPROCESSED record was created.
	StageInserted StageOutcome = iota
	// StageRefreshed means an existing UNPROCESSED record had its staged payload replaced.
	StageRefreshed
	// StageFinalized means the fingerprint is already PROCESSED or MANUAL; nothing changed.
	StageFinalized
)

func (o StageOutcome) String() string {
	switch o {
	case StageInserted:
		return "inserted"
	case StageRefreshed:
		return "refreshed"
	default:
		return "finalized"
	}
}

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.QuoteError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

const recordColumns = `
	id, fingerprint, category, state, sender, subject,
	received_at, created_at, updated_at, raw_payload,
	extracted_fields, quote_value, rendered_html, slot_column`

// Stage inserts r as UNPROCESSED if its fingerprint is absent. When a record with the same
// fingerprint is still UNPROCESSED, its staged payload is refreshed in place and its id and
// created_at are kept. Finalized records are never touched. The statement is atomic, so two
// concurrent runs cannot both insert the same fingerprint.
func Stage(db *sql.DB, r *record.MessageRecord) (StageOutcome, error) {
	fieldsJSON, err := encodeFields(r.ExtractedFields)
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	query := `
		INSERT INTO message_records (` + recordColumns + `)
		VALUES (?, ?, ?, 'unprocessed', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			category = excluded.category,
			raw_payload = excluded.raw_payload,
			extracted_fields = excluded.extracted_fields,
			quote_value = excluded.quote_value,
			rendered_html = excluded.rendered_html,
			slot_column = excluded.slot_column,
			updated_at = excluded.updated_at
		WHERE message_records.state = 'unprocessed'
		RETURNING id, created_at
	`

	var id string
	var createdAt int64
	err = db.QueryRow(query,
		r.ID, r.Fingerprint, r.Category, r.Sender, r.Subject,
		r.ReceivedAt, r.CreatedAt, r.UpdatedAt, nullBytes(r.RawPayload),
		fieldsJSON, toNullFloat(r.QuoteValue), toNullString(r.RenderedHTML), toNullString(r.SlotColumn),
	).Scan(&id, &createdAt)
	if err == sql.ErrNoRows {
		return StageFinalized, nil
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ErrUniqueConstraint
		}
		return 0, errors.NewInternal(err)
	}

	r.State = record.StateUnprocessed
	if id != r.ID {
		r.ID = id
		r.CreatedAt = createdAt
		return StageRefreshed, nil
	}
	return StageInserted, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID retrieves a record by its ULID.
func GetByID(db *sql.DB, id string) (*record.MessageRecord, error) {
	row := db.QueryRow(`SELECT `+recordColumns+` FROM message_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// GetByFingerprint retrieves a record by its fingerprint.
func GetByFingerprint(db *sql.DB, fingerprint string) (*record.MessageRecord, error) {
	row := db.QueryRow(`SELECT `+recordColumns+` FROM message_records WHERE fingerprint = ?`, fingerprint)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(fingerprint)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// LookupState returns the state of fingerprint, or found=false when no record exists.
func LookupState(db *sql.DB, fingerprint string) (state record.State, found bool, err error) {
	var s string
	err = db.QueryRow(`SELECT state FROM message_records WHERE fingerprint = ?`, fingerprint).Scan(&s)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return record.State(s), true, nil
}

// ListByFingerprints returns the records with the given fingerprints and state, in fingerprint order.
// Unknown fingerprints are silently omitted.
func ListByFingerprints(db *sql.DB, fingerprints []string, state record.State) ([]record.MessageRecord, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}

	query := `SELECT ` + recordColumns + ` FROM message_records
		WHERE state = ? AND fingerprint IN (` + placeholders(len(fingerprints)) + `)
		ORDER BY fingerprint`

	args := make([]any, 0, len(fingerprints)+1)
	args = append(args, string(state))
	for _, fp := range fingerprints {
		args = append(args, fp)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []record.MessageRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Transition moves every UNPROCESSED record among fingerprints to state `to` in one statement.
// Records already in a terminal state are left alone. A PROCESSED transition skips records
// without a raw payload. Returns the number of records moved.
func Transition(db *sql.DB, fingerprints []string, to record.State) (int, error) {
	if !record.StateUnprocessed.CanTransition(to) {
		return 0, errors.NewInvalidTransition("*", string(record.StateUnprocessed), string(to))
	}
	if len(fingerprints) == 0 {
		return 0, nil
	}

	query := `UPDATE message_records SET state = ?, updated_at = ?
		WHERE state = 'unprocessed' AND fingerprint IN (` + placeholders(len(fingerprints)) + `)`
	if to == record.StateProcessed {
		query += ` AND raw_payload IS NOT NULL`
	}

	args := make([]any, 0, len(fingerprints)+2)
	args = append(args, string(to), time.Now().Unix())
	for _, fp := range fingerprints {
		args = append(args, fp)
	}

	result, err := db.Exec(query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// UpdateStaged replaces the quote and rendered reply of an UNPROCESSED record.
// Used when a human override changes the quote before sending.
func UpdateStaged(db *sql.DB, fingerprint string, quote *float64, html string) error {
	result, err := db.Exec(`
		UPDATE message_records SET quote_value = ?, rendered_html = ?, updated_at = ?
		WHERE fingerprint = ? AND state = 'unprocessed'
	`, toNullFloat(quote), html, time.Now().Unix(), fingerprint)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(fingerprint)
	}
	return nil
}

// ResetByID moves a record back to UNPROCESSED regardless of its state.
// This is the only path out of a terminal state.
func ResetByID(db *sql.DB, id string) (*record.MessageRecord, error) {
	result, err := db.Exec(`UPDATE message_records SET state = 'unprocessed', updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if n == 0 {
		return nil, errors.NewNotFound(id)
	}
	return GetByID(db, id)
}

// ListFilters narrows List results. Empty fields match everything.
type ListFilters struct {
	State    record.State
	Category string
}

// List returns records ordered by updated_at descending, without raw payloads,
// plus the total count matching the filters.
func List(db *sql.DB, filters ListFilters, limit, offset int) ([]record.MessageRecord, int, error) {
	where := []string{"1=1"}
	var args []any
	if filters.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filters.State))
	}
	if filters.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filters.Category)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM message_records WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + recordColumns + ` FROM message_records WHERE ` + clause +
		` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []record.MessageRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		r.RawPayload = nil
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// ListProcessedSince returns PROCESSED records updated at or after since (Unix seconds),
// oldest first.
func ListProcessedSince(db *sql.DB, since int64) ([]record.MessageRecord, error) {
	rows, err := db.Query(`SELECT `+recordColumns+` FROM message_records
		WHERE state = 'processed' AND updated_at >= ?
		ORDER BY updated_at ASC, id ASC`, since)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []record.MessageRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		r.RawPayload = nil
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// CountByState returns the number of records per state. States with no records are absent.
func CountByState(db *sql.DB) (map[record.State]int, error) {
	rows, err := db.Query(`SELECT state, COUNT(*) FROM message_records GROUP BY state`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := make(map[record.State]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[record.State(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

// PurgeOlderThan permanently deletes records created before the cutoff (Unix seconds).
// If state is non-empty only records in that state are deleted.
func PurgeOlderThan(db *sql.DB, cutoff int64, state record.State) (int, error) {
	query := `DELETE FROM message_records WHERE created_at < ?`
	args := []any{cutoff}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}

	result, err := db.Exec(query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// ClearAll deletes every record and keeps the schema.
func ClearAll(db *sql.DB) (int, error) {
	result, err := db.Exec(`DELETE FROM message_records`)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.MessageRecord, error) {
	var r record.MessageRecord
	var state string
	var payload []byte
	var fieldsJSON, rendered, slot sql.NullString
	var quote sql.NullFloat64

	err := row.Scan(
		&r.ID, &r.Fingerprint, &r.Category, &state, &r.Sender, &r.Subject,
		&r.ReceivedAt, &r.CreatedAt, &r.UpdatedAt, &payload,
		&fieldsJSON, &quote, &rendered, &slot,
	)
	if err != nil {
		return nil, err
	}

	r.State = record.State(state)
	if len(payload) > 0 {
		r.RawPayload = payload
	}
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &r.ExtractedFields); err != nil {
			return nil, err
		}
	}
	if quote.Valid {
		v := quote.Float64
		r.QuoteValue = &v
	}
	r.RenderedHTML = fromNullString(rendered)
	r.SlotColumn = fromNullString(slot)

	return &r, nil
}

func encodeFields(f record.Fields) (sql.NullString, error) {
	if len(f) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
