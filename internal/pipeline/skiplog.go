package pipeline

import (
	"time"

	"github.com/hpungsan/quotedesk/internal/record"
)

// SkipKind separates ordinary skips from hold requests; each goes to its own report sheet.
type SkipKind string

const (
	SkipKindSkipped SkipKind = "skipped"
	SkipKindHold    SkipKind = "hold"
)

// SkipEntry explains why one message was not staged.
type SkipEntry struct {
	Kind     SkipKind
	Subject  string
	Sender   string
	Reason   string
	SentAt   time.Time
	LoggedAt time.Time
}

// SkipLog collects the messages a run did not stage, in the order they were seen.
// It lives for one run and is flushed to the report sheets at the end.
type SkipLog struct {
	entries []SkipEntry
}

// Add appends an entry for msg.
func (l *SkipLog) Add(kind SkipKind, msg *record.Inbound, reason string, now time.Time) {
	e := SkipEntry{Kind: kind, Reason: reason, LoggedAt: now}
	if msg != nil {
		e.Subject = msg.Subject
		e.Sender = msg.FromAddr
		e.SentAt = msg.SentAt
	}
	l.entries = append(l.entries, e)
}

// Entries returns the entries of kind in insertion order.
func (l *SkipLog) Entries(kind SkipKind) []SkipEntry {
	var out []SkipEntry
	for _, e := range l.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries of every kind.
func (l *SkipLog) Len() int {
	return len(l.entries)
}
