package nlp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel returns fixed spans, or splits on spaces when spans is nil.
type fakeModel struct {
	name  string
	spans []Span
	err   error
	calls int
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) Segment(text string) ([]Span, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.spans != nil {
		return m.spans, nil
	}
	return segmentWords(text, func(int) bool { return false }), nil
}

func TestAnnotate(t *testing.T) {
	m := &fakeModel{name: "fake"}
	doc, err := Annotate(m, "this is a string")
	require.NoError(t, err)

	assert.Equal(t, "fake", doc.Model())
	assert.Equal(t, "this is a string", doc.Text())
	assert.Equal(t, []string{"this", "is", "a", "string"}, doc.Strings())

	want := []Token{
		{Text: "this", Whitespace: " ", Index: 0, Start: 0, End: 4},
		{Text: "is", Whitespace: " ", Index: 1, Start: 5, End: 7},
		{Text: "a", Whitespace: " ", Index: 2, Start: 8, End: 9},
		{Text: "string", Whitespace: "", Index: 3, Start: 10, End: 16},
	}
	var got []Token
	for tok := range doc.Tokens() {
		got = append(got, tok)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestAnnotateEmptyText(t *testing.T) {
	m := &fakeModel{name: "fake"}
	doc, err := Annotate(m, "")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Len())
	assert.Empty(t, doc.Strings())
	assert.Equal(t, 0, m.calls, "empty text must not reach the model")
}

func TestAnnotateWhitespaceOnly(t *testing.T) {
	doc, err := Annotate(&fakeModel{name: "fake"}, " \t\n ")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Len())
	assert.Equal(t, " \t\n ", doc.Reconstruct())
}

func TestAnnotateErrors(t *testing.T) {
	boom := errors.New("boom")
	testCases := []struct {
		name  string
		model Model
		text  string
	}{
		{"nil model", nil, "text"},
		{"invalid utf8", &fakeModel{name: "fake"}, "bad \xff byte"},
		{"model failure", &fakeModel{name: "fake", err: boom}, "text"},
		{"overlapping spans", &fakeModel{name: "fake", spans: []Span{{0, 3}, {2, 4}}}, "text"},
		{"empty span", &fakeModel{name: "fake", spans: []Span{{1, 1}}}, "text"},
		{"out of range", &fakeModel{name: "fake", spans: []Span{{0, 9}}}, "text"},
		{"negative start", &fakeModel{name: "fake", spans: []Span{{-1, 2}}}, "text"},
		{"splits rune", &fakeModel{name: "fake", spans: []Span{{0, 1}}}, "é"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Annotate(tc.model, tc.text)
			require.Error(t, err)
			assert.Nil(t, doc)
			var annErr *AnnotationError
			require.True(t, errors.As(err, &annErr), "got %T", err)
		})
	}

	_, err := Annotate(&fakeModel{name: "fake", err: boom}, "text")
	assert.True(t, errors.Is(err, boom))
}

func TestDocumentReconstruct(t *testing.T) {
	for _, text := range []string{
		"this is a string",
		"  leading and trailing  ",
		"Hello,  world!\n\tBye.",
		"“Quoted” (parenthesised) don't",
		"日本語 テキスト",
	} {
		doc, err := Annotate(&fakeModel{name: "fake"}, text)
		require.NoError(t, err)
		assert.Equal(t, text, doc.Reconstruct())
		for tok := range doc.Tokens() {
			assert.Equal(t, text[tok.Start:tok.End], tok.Text)
			assert.NotEmpty(t, tok.Text)
		}
	}
}

func TestDocumentAll(t *testing.T) {
	doc, err := Annotate(&fakeModel{name: "fake"}, "one two three")
	require.NoError(t, err)

	var seen []int
	for i, tok := range doc.All() {
		assert.Equal(t, i, tok.Index)
		assert.Equal(t, doc.Token(i), tok)
		seen = append(seen, i)
		if i == 1 {
			break
		}
	}
	assert.Equal(t, []int{0, 1}, seen)

	// each traversal starts over
	first := doc.Strings()
	assert.Equal(t, first, doc.Strings())
}

func TestAnnotateDeterministic(t *testing.T) {
	m, err := newEnglishModel("en")
	require.NoError(t, err)
	text := "Mr. Smith didn't go. He stayed (at home)..."
	a, err := Annotate(m, text)
	require.NoError(t, err)
	b, err := Annotate(m, text)
	require.NoError(t, err)
	assert.Equal(t, a.Strings(), b.Strings())
}

type closingModel struct {
	fakeModel
	closed bool
}

func (m *closingModel) Close() error {
	m.closed = true
	return nil
}

func TestClose(t *testing.T) {
	m := &closingModel{fakeModel: fakeModel{name: "c"}}
	require.NoError(t, Close(m))
	assert.True(t, m.closed)
	require.NoError(t, Close(&fakeModel{name: "plain"}))
}
