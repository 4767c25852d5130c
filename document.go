// Package nlp loads text annotation models by name and applies them to text,
// producing documents of tokens.
//
//	model, err := nlp.Load(ctx, "en")
//	if err != nil {
//	    return err
//	}
//	doc, err := nlp.Annotate(model, "this is a string")
//	if err != nil {
//	    return err
//	}
//	return nlp.Emit(os.Stdout, doc)
package nlp

import (
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Model is a loaded annotation model. Segment reports the byte ranges of the
// tokens of text, in order. Implementations must be safe for concurrent use
// and must not change behaviour after construction.
type Model interface {
	Name() string
	Segment(text string) ([]Span, error)
}

// Close releases resources held by m, if it holds any.
func Close(m Model) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Span is a half-open byte range [Start, End) into a text.
type Span struct {
	Start int
	End   int
}

// Token is one lexical unit of a Document.
type Token struct {
	// Text is the exact substring of the input covered by the token.
	Text string
	// Whitespace is the input between this token and the next one.
	Whitespace string
	Index      int
	Start      int
	End        int
}

// Document is the immutable result of annotating one text.
type Document struct {
	model  string
	text   string
	tokens []Token
}

// Model is the name of the model that produced the document.
func (d *Document) Model() string { return d.model }

// Text returns the annotated input.
func (d *Document) Text() string { return d.text }

// Len is the number of tokens.
func (d *Document) Len() int { return len(d.tokens) }

// Token returns the i-th token. It panics if i is out of range.
func (d *Document) Token(i int) Token { return d.tokens[i] }

// Tokens returns a fresh in-order traversal of the tokens.
func (d *Document) Tokens() iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for _, tok := range d.tokens {
			if !yield(tok) {
				return
			}
		}
	}
}

// All is like Tokens with the token index.
func (d *Document) All() iter.Seq2[int, Token] {
	return func(yield func(int, Token) bool) {
		for i, tok := range d.tokens {
			if !yield(i, tok) {
				return
			}
		}
	}
}

// Strings returns the surface text of every token.
func (d *Document) Strings() []string {
	out := make([]string, len(d.tokens))
	for i, tok := range d.tokens {
		out[i] = tok.Text
	}
	return out
}

// Reconstruct rebuilds the input from the tokens and the text around them.
func (d *Document) Reconstruct() string {
	if len(d.tokens) == 0 {
		return d.text
	}
	var b strings.Builder
	b.WriteString(d.text[:d.tokens[0].Start])
	for _, tok := range d.tokens {
		b.WriteString(tok.Text)
		b.WriteString(tok.Whitespace)
	}
	return b.String()
}

// Annotate runs m over text. Empty text yields an empty Document without
// consulting the model. The model's spans must be non-empty, ordered,
// non-overlapping, in range and on rune boundaries; anything else, like a
// model failure or text that is not UTF-8, is an *AnnotationError.
func Annotate(m Model, text string) (*Document, error) {
	if m == nil {
		return nil, &AnnotationError{Err: errors.New("nil model")}
	}
	doc := &Document{model: m.Name(), text: text}
	if text == "" {
		return doc, nil
	}
	if !utf8.ValidString(text) {
		return nil, &AnnotationError{Model: m.Name(), Err: errors.New("input is not valid UTF-8 text")}
	}

	spans, err := m.Segment(text)
	if err != nil {
		return nil, &AnnotationError{Model: m.Name(), Err: err}
	}
	tokens, err := buildTokens(text, spans)
	if err != nil {
		return nil, &AnnotationError{Model: m.Name(), Err: err}
	}
	doc.tokens = tokens
	return doc, nil
}

func buildTokens(text string, spans []Span) ([]Token, error) {
	tokens := make([]Token, 0, len(spans))
	prev := 0
	for i, s := range spans {
		switch {
		case s.Start < prev:
			return nil, errors.Errorf("span %d [%d,%d) overlaps or precedes offset %d", i, s.Start, s.End, prev)
		case s.End <= s.Start:
			return nil, errors.Errorf("span %d [%d,%d) is empty", i, s.Start, s.End)
		case s.End > len(text):
			return nil, errors.Errorf("span %d [%d,%d) exceeds text length %d", i, s.Start, s.End, len(text))
		case !onRuneBoundary(text, s.Start) || !onRuneBoundary(text, s.End):
			return nil, errors.Errorf("span %d [%d,%d) splits a UTF-8 sequence", i, s.Start, s.End)
		}
		if i > 0 {
			tokens[i-1].Whitespace = text[prev:s.Start]
		}
		tokens = append(tokens, Token{
			Text:  text[s.Start:s.End],
			Index: i,
			Start: s.Start,
			End:   s.End,
		})
		prev = s.End
	}
	if n := len(tokens); n > 0 {
		tokens[n-1].Whitespace = text[prev:]
	}
	return tokens, nil
}

func onRuneBoundary(text string, i int) bool {
	return i == len(text) || utf8.RuneStart(text[i])
}
