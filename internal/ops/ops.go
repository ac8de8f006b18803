package ops

import (
	"fmt"
	"strings"

	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/record"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// fingerprintLen is the length of a hex sha256 fingerprint.
const fingerprintLen = 64

// Ref is a validated record reference: either a ULID or a fingerprint.
type Ref struct {
	ByFingerprint bool
	Value         string
}

// ParseRef accepts a record ULID or a 64-character hex fingerprint.
func ParseRef(s string) (*Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.NewInvalidRequest("record id or fingerprint is required")
	}
	if len(s) == fingerprintLen && isHex(s) {
		return &Ref{ByFingerprint: true, Value: strings.ToLower(s)}, nil
	}
	return &Ref{Value: strings.ToUpper(s)}, nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// parseStateFilter validates an optional state filter.
func parseStateFilter(s string) (record.State, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "", nil
	}
	st, ok := record.ParseState(s)
	if !ok {
		return "", errors.NewInvalidRequest(fmt.Sprintf("unknown state %q (want unprocessed, processed or manual)", s))
	}
	return st, nil
}

// plural returns word with an "s" appended unless n == 1.
func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
