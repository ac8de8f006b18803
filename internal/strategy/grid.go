package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hpungsan/quotedesk/internal/compose"
	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/record"
)

// KindGrid is the strategy kind for counterparties quoted on a slot column of a category sheet.
const KindGrid = "grid"

// Grid writes the request table into a slot column, fills the derived inputs
// (date basis, volatility tier, risk-free rate) and reads the quote row.
type Grid struct {
	quotability string
	volTiers    []config.VolTier
	rates       []config.PrefixRate
}

// NewGrid builds a grid strategy from the market tables in cfg.
func NewGrid(cfg *config.Config) *Grid {
	return &Grid{
		quotability: cfg.Quotability,
		volTiers:    cfg.VolTiers,
		rates:       cfg.RiskFreeRates,
	}
}

func (g *Grid) Kind() string { return KindGrid }

// Quotable applies the configured quotability policy and the category's underlying allow-list.
func (g *Grid) Quotable(cat *config.Category, fields record.Fields) error {
	designated := cat.DesignatedField()

	switch g.quotability {
	case config.QuotabilityAnyBlank:
		v, present := fields[designated]
		if !present {
			return errors.NewIneligible(fmt.Sprintf("quote field %q not in table", designated))
		}
		if v != nil {
			return errors.NewIneligible(fmt.Sprintf("quote field %q already filled", designated))
		}
	default:
		if fields.AllFilled() {
			return errors.NewIneligible("all fields filled")
		}
		blank := fields.Blank()
		if len(blank) != 1 || blank[0] != designated {
			return errors.NewIneligible(fmt.Sprintf("blank fields [%s] do not match quote field %q",
				strings.Join(blank, ", "), designated))
		}
	}

	if u := Underlying(cat, fields); u != "" && !PrefixAllowed(cat, u) {
		return errors.NewIneligible(fmt.Sprintf("underlying %s not quoted on %s", u, cat.Name))
	}
	return nil
}

// Compute fills column col and returns the quote read from the category's quote row.
func (g *Grid) Compute(eng Engine, cat *config.Category, col string, fields record.Fields) (float64, error) {
	fail := func(err error) (float64, error) {
		return 0, errors.NewComputeFailed(cat.Name, err)
	}

	for _, rule := range cat.Fields {
		v, ok := fields.Get(rule.Label)
		if !ok {
			continue
		}
		val, err := Transform(rule.Transform, v)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", rule.Label, err))
		}
		if err := eng.Write(cat.Name, cell(col, rule.Row), val); err != nil {
			return fail(err)
		}
	}

	if err := g.applyDerived(eng, cat, col, Underlying(cat, fields)); err != nil {
		return fail(err)
	}

	if err := eng.Recompute(); err != nil {
		return fail(err)
	}
	raw, err := eng.Read(cat.Name, cell(col, cat.QuoteRow))
	if err != nil {
		return fail(err)
	}
	q, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fail(fmt.Errorf("quote cell %s is not numeric: %q", cell(col, cat.QuoteRow), raw))
	}
	return q, nil
}

func (g *Grid) applyDerived(eng Engine, cat *config.Category, col, underlying string) error {
	d := cat.Derived

	if d.TradeDateRow > 0 && d.DateBasisPrefix != "" && strings.HasPrefix(underlying, d.DateBasisPrefix) {
		at := cell(col, d.TradeDateRow)
		formula, err := eng.Formula(cat.Name, at)
		if err != nil {
			return err
		}
		if formula != "" {
			if err := eng.SetFormula(cat.Name, at, strings.ReplaceAll(formula, "$C", "$A")); err != nil {
				return err
			}
		}
	}

	if d.TenorRow > 0 && d.VolRow > 0 {
		if err := eng.Recompute(); err != nil {
			return err
		}
		raw, err := eng.Read(cat.Name, cell(col, d.TenorRow))
		if err != nil {
			return err
		}
		tenor, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("tenor cell %s is not numeric: %q", cell(col, d.TenorRow), raw)
		}
		vol, ok := VolFor(g.volTiers, underlying, tenor)
		if !ok {
			return fmt.Errorf("no volatility tier for %s at tenor %g", underlying, tenor)
		}
		if err := eng.Write(cat.Name, cell(col, d.VolRow), vol); err != nil {
			return err
		}
	}

	if d.RateRow > 0 {
		rate, ok := RateFor(g.rates, underlying)
		if !ok {
			return fmt.Errorf("no risk-free rate for %s", underlying)
		}
		if err := eng.Write(cat.Name, cell(col, d.RateRow), rate); err != nil {
			return err
		}
	}
	return nil
}

// Render writes value into the category's quote label row.
func (g *Grid) Render(markup string, cat *config.Category, value float64) (string, error) {
	return compose.Render(markup, cat.QuoteLabel, value, cat.Format)
}

// VolFor picks the volatility of the tier with the longest matching prefix and the
// smallest max tenor that still covers tenor.
func VolFor(tiers []config.VolTier, underlying string, tenor float64) (float64, bool) {
	var best *config.VolTier
	for i := range tiers {
		t := &tiers[i]
		if !strings.HasPrefix(underlying, t.Prefix) || tenor > t.MaxTenor {
			continue
		}
		if best == nil || len(t.Prefix) > len(best.Prefix) ||
			(len(t.Prefix) == len(best.Prefix) && t.MaxTenor < best.MaxTenor) {
			best = t
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Vol, true
}

// RateFor returns the rate of the longest prefix matching underlying.
func RateFor(rates []config.PrefixRate, underlying string) (float64, bool) {
	var best *config.PrefixRate
	for i := range rates {
		r := &rates[i]
		if strings.HasPrefix(underlying, r.Prefix) && (best == nil || len(r.Prefix) > len(best.Prefix)) {
			best = r
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Rate, true
}

func cell(col string, row int) string {
	return col + strconv.Itoa(row)
}
