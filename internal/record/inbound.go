package record

import (
	"sort"
	"strings"
	"time"
)

// Fields maps a table label to its value; a nil value means the cell was empty.
type Fields map[string]*string

// Value returns a pointer to a copy of v, for building Fields literals.
func Value(v string) *string {
	return &v
}

// Get returns the trimmed value for label and whether it was present and non-empty.
func (f Fields) Get(label string) (string, bool) {
	v, ok := f[label]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// AllFilled reports whether every label has a value.
func (f Fields) AllFilled() bool {
	for _, v := range f {
		if v == nil {
			return false
		}
	}
	return true
}

// Blank returns the labels whose cells were empty, sorted.
func (f Fields) Blank() []string {
	var blank []string
	for label, v := range f {
		if v == nil {
			blank = append(blank, strings.TrimSpace(label))
		}
	}
	sort.Strings(blank)
	return blank
}

// Inbound is a fetched pricing-request message. It lives for one ingestion run.
type Inbound struct {
	TransportID string
	MessageID   string
	Subject     string
	FromName    string
	FromAddr    string
	To          []string
	Cc          []string
	SentAt      time.Time
	Category    string
	Fields      Fields
	HTML        string
	Raw         []byte
}

// Domain returns the lowercased domain part of the sender address.
func (m *Inbound) Domain() string {
	addr := m.FromAddr
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		addr = addr[i+1:]
	}
	return Normalize(addr)
}

// Fingerprint returns the de-duplication key of the message.
func (m *Inbound) Fingerprint() string {
	return Fingerprint(m.Subject, m.SentAt)
}
