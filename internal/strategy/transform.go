package strategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hpungsan/quotedesk/internal/config"
)

var parenthesized = regexp.MustCompile(`[(（]([^)）]*)[)）]`)

// NormalizeUnderlying extracts the instrument code from a free-text underlying cell:
// the text inside the first pair of parentheses when present, without dots, uppercased.
// "Gold futures (au2512.SHF)" becomes "AU2512SHF".
func NormalizeUnderlying(v string) string {
	if m := parenthesized.FindStringSubmatch(v); m != nil {
		v = m[1]
	}
	v = strings.ReplaceAll(v, ".", "")
	return strings.ToUpper(strings.TrimSpace(v))
}

// Transform converts a table value into what is written to the workbook.
// Values without a transform are written as numbers when they parse as one.
func Transform(kind, v string) (any, error) {
	switch kind {
	case config.TransformUnderlying:
		return NormalizeUnderlying(v), nil
	case config.TransformStripAsterisk:
		return coerce(strings.ReplaceAll(v, "*", "")), nil
	case config.TransformNumber:
		f, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("value %q is not a number", v)
		}
		return f, nil
	case "":
		return coerce(v), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", kind)
	}
}

func coerce(v string) any {
	if f, ok := number(v); ok {
		return f
	}
	return strings.TrimSpace(v)
}

// number parses "1,250.5", "95%" (as 0.95) and plain floats.
func number(v string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if s == "" {
		return 0, false
	}
	scale := 1.0
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		scale = 0.01
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * scale, true
}
