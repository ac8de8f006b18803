// Package extract turns the first HTML table of an inquiry body into a label to value map.
package extract

import (
	stderrors "errors"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hpungsan/quotedesk/internal/record"
)

// ErrNoTable is returned when the markup holds no table with at least one labeled row.
var ErrNoTable = stderrors.New("no usable table")

// Table parses markup and returns the labeled rows of its first table.
// The first cell of a row is the label, the second the value. Rows with an empty label
// are dropped; an empty value cell maps to a nil value, distinct from a missing label.
// Rows of tables nested inside the first table are ignored.
func Table(markup string) (record.Fields, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	table := FindFirst(doc, atom.Table)
	if table == nil {
		return nil, ErrNoTable
	}

	fields := make(record.Fields)
	for _, row := range Rows(table) {
		cells := Cells(row)
		if len(cells) < 2 {
			continue
		}
		label := Text(cells[0])
		if label == "" {
			continue
		}
		if value := Text(cells[1]); value != "" {
			fields[label] = record.Value(value)
		} else {
			fields[label] = nil
		}
	}

	if len(fields) == 0 {
		return nil, ErrNoTable
	}
	return fields, nil
}

// FindFirst returns the first element with the given atom in document order.
func FindFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := FindFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Rows returns the tr elements that belong to table itself, skipping nested tables.
func Rows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				continue
			case atom.Tr:
				rows = append(rows, c)
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

// Cells returns the direct td/th children of a row.
func Cells(row *html.Node) []*html.Node {
	var cells []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, c)
		}
	}
	return cells
}

// Text returns the whitespace-collapsed text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
