package record

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// Fingerprint hashes subject and sent time into the store's primary lookup key.
// The timestamp is taken in UTC at second precision so the same instant always
// yields the same key regardless of the zone it was parsed in.
func Fingerprint(subject string, sentAt time.Time) string {
	ts := sentAt.UTC().Truncate(time.Second).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(strings.TrimSpace(subject) + "\x00" + ts))
	return hex.EncodeToString(sum[:])
}
