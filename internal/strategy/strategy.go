// Package strategy holds the per-sender quoting strategies. A strategy decides whether a
// message can be quoted, computes the quote on the valuation engine and renders it into
// the reply. Strategies are looked up once by sender domain and never re-dispatched.
package strategy

import (
	"strings"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/record"
)

// Engine is the coordinate-addressable valuation grid.
type Engine interface {
	Read(sheet, cell string) (string, error)
	Write(sheet, cell string, value any) error
	Formula(sheet, cell string) (string, error)
	SetFormula(sheet, cell, formula string) error
	Recompute() error
}

// Strategy quotes the messages of one kind of counterparty.
type Strategy interface {
	// Kind is the name senders are mapped to in config.
	Kind() string

	// Quotable returns nil when fields describe a request this strategy can price,
	// or an INELIGIBLE error carrying the reason.
	Quotable(cat *config.Category, fields record.Fields) error

	// Compute writes fields into column col of the category sheet and reads back the quote.
	// Failures are COMPUTE_FAILED errors.
	Compute(eng Engine, cat *config.Category, col string, fields record.Fields) (float64, error)

	// Render writes value into the quote row of markup.
	Render(markup string, cat *config.Category, value float64) (string, error)
}

// Registry maps sender domains to strategies.
type Registry struct {
	kinds   map[string]Strategy
	senders map[string]string
}

// NewRegistry returns a registry with the built-in strategies and cfg's sender table.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		kinds:   make(map[string]Strategy),
		senders: make(map[string]string, len(cfg.Senders)),
	}
	for domain, kind := range cfg.Senders {
		r.senders[record.Normalize(domain)] = kind
	}
	r.Register(NewGrid(cfg))
	return r
}

// Register adds or replaces the strategy for s.Kind().
func (r *Registry) Register(s Strategy) {
	r.kinds[s.Kind()] = s
}

// MapSender routes domain to the strategy registered as kind.
func (r *Registry) MapSender(domain, kind string) {
	r.senders[record.Normalize(domain)] = kind
}

// ForDomain returns the strategy configured for a sender domain.
func (r *Registry) ForDomain(domain string) (Strategy, bool) {
	kind, ok := r.senders[record.Normalize(domain)]
	if !ok {
		return nil, false
	}
	s, ok := r.kinds[kind]
	return s, ok
}

// Underlying returns the normalized instrument code of a message, or "" when the
// category has no underlying field or the field is blank.
func Underlying(cat *config.Category, fields record.Fields) string {
	if cat.UnderlyingLabel == "" {
		return ""
	}
	v, ok := fields.Get(cat.UnderlyingLabel)
	if !ok {
		return ""
	}
	return NormalizeUnderlying(v)
}

// PrefixAllowed reports whether underlying starts with one of the category's allowed prefixes.
// An empty allow-list accepts everything.
func PrefixAllowed(cat *config.Category, underlying string) bool {
	if len(cat.AllowedPrefixes) == 0 {
		return true
	}
	for _, p := range cat.AllowedPrefixes {
		if strings.HasPrefix(underlying, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
