package compose

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// noteDivider separates the automated reply from the note and the quoted original.
const noteDivider = "<br><hr/>"

// Note renders the markdown reply note to HTML.
func Note(markdown string) (string, error) {
	if markdown == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Body places the rendered quote table above the reply note. The original message
// travels as an attachment, so the body only carries what the desk wrote.
func Body(rendered, noteHTML string) string {
	if noteHTML == "" {
		return rendered
	}
	return rendered + noteDivider + noteHTML + "<hr/>"
}
