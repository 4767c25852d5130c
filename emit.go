package nlp

import (
	"io"
)

// Emit writes the text of every token of doc to w, one per line, in order.
// Writes go straight to w so that tokens written before a failure stay
// written; the failure is returned as an *OutputWriteError.
func Emit(w io.Writer, doc *Document) error {
	if doc == nil {
		return nil
	}
	for i, tok := range doc.All() {
		if _, err := io.WriteString(w, tok.Text+"\n"); err != nil {
			return &OutputWriteError{Index: i, Err: err}
		}
	}
	return nil
}
