package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is bumped when the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// snapshot is the self-describing JSON form of an Inbound stored in raw_payload.
type snapshot struct {
	Version     int                `json:"v"`
	TransportID string             `json:"transport_id"`
	MessageID   string             `json:"message_id,omitempty"`
	Subject     string             `json:"subject"`
	FromName    string             `json:"from_name,omitempty"`
	FromAddr    string             `json:"from_addr"`
	To          []string           `json:"to,omitempty"`
	Cc          []string           `json:"cc,omitempty"`
	SentAt      time.Time          `json:"sent_at"`
	Category    string             `json:"category"`
	Fields      map[string]*string `json:"fields,omitempty"`
	HTML        string             `json:"html"`
	Raw         []byte             `json:"raw,omitempty"`
}

// EncodeSnapshot serializes a message for later resend.
func EncodeSnapshot(m *Inbound) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("nil message")
	}
	return json.Marshal(snapshot{
		Version:     SnapshotVersion,
		TransportID: m.TransportID,
		MessageID:   m.MessageID,
		Subject:     m.Subject,
		FromName:    m.FromName,
		FromAddr:    m.FromAddr,
		To:          m.To,
		Cc:          m.Cc,
		SentAt:      m.SentAt.UTC(),
		Category:    m.Category,
		Fields:      m.Fields,
		HTML:        m.HTML,
		Raw:         m.Raw,
	})
}

// DecodeSnapshot restores a message written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Inbound, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version > SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported %d", s.Version, SnapshotVersion)
	}
	return &Inbound{
		TransportID: s.TransportID,
		MessageID:   s.MessageID,
		Subject:     s.Subject,
		FromName:    s.FromName,
		FromAddr:    s.FromAddr,
		To:          s.To,
		Cc:          s.Cc,
		SentAt:      s.SentAt,
		Category:    s.Category,
		Fields:      Fields(s.Fields),
		HTML:        s.HTML,
		Raw:         s.Raw,
	}, nil
}
