// Package compose writes a computed quote back into an inquiry's HTML table
// and assembles the HTML body of the reply.
package compose

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/extract"
)

// FormatQuote renders value with fixed decimals, the category prefix and optional percent mode.
// Zero, NaN and negative zero all render as a zero with the prefix.
func FormatQuote(value float64, f config.QuoteFormat) string {
	if value == 0 || math.IsNaN(value) {
		value = 0
	}
	decimals := max(f.Decimals, 0)
	suffix := ""
	if f.Percent {
		value *= 100
		suffix = "%"
	}
	s := strconv.FormatFloat(value, 'f', decimals, 64)
	if strings.Trim(s, "-0.") == "" {
		s = strings.TrimPrefix(s, "-")
	}
	return f.Prefix + s + suffix
}

// Render replaces the value cell of the row labeled label with the formatted quote.
// Only rows with exactly two cells are considered, and when the value cell contains a
// paragraph only the first paragraph is rewritten. If no row matches, markup is returned
// unchanged together with a LABEL_MISSING error.
func Render(markup, label string, value float64, f config.QuoteFormat) (string, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return markup, errors.NewInternal(err)
	}

	cell := findValueCell(doc, label)
	if cell == nil {
		return markup, errors.NewLabelMissing(label)
	}

	target := cell
	if p := extract.FindFirst(cell, atom.P); p != nil {
		target = p
	}
	setText(target, FormatQuote(value, f))

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return markup, errors.NewInternal(err)
	}
	return buf.String(), nil
}

func findValueCell(n *html.Node, label string) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
		cells := extract.Cells(n)
		if len(cells) == 2 && extract.Text(cells[0]) == label {
			return cells[1]
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findValueCell(c, label); found != nil {
			return found
		}
	}
	return nil
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
