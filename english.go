package nlp

import (
	"strings"
	"unicode"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/data"
	"github.com/neurosnap/sentences/english"
	"github.com/pkg/errors"
)

// sentenceTokenizer is the part of the Punkt tokenizer used here.
type sentenceTokenizer interface {
	Tokenize(text string) []*sentences.Sentence
}

// punktModel finds sentence boundaries with a trained Punkt model and words
// with the rules of segmentWords.
type punktModel struct {
	name      string
	sentences sentenceTokenizer
}

func (m *punktModel) Name() string { return m.name }

func (m *punktModel) Segment(text string) ([]Span, error) {
	ends := sentenceEnds(text, m.sentences.Tokenize(text))
	last := len(strings.TrimRightFunc(text, unicode.IsSpace))
	return segmentWords(text, func(offset int) bool {
		return offset == last || ends[offset]
	}), nil
}

// sentenceEnds maps each sentence to the byte offset just past its last
// non-space rune. Sentences that cannot be located in text are skipped.
func sentenceEnds(text string, sents []*sentences.Sentence) map[int]bool {
	ends := make(map[int]bool, len(sents))
	cursor := 0
	for _, s := range sents {
		body := strings.TrimSpace(s.Text)
		if body == "" {
			continue
		}
		idx := strings.Index(text[cursor:], body)
		if idx < 0 {
			continue
		}
		cursor += idx + len(body)
		ends[cursor] = true
	}
	return ends
}

func newEnglishModel(name string) (Model, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build english sentence tokenizer")
	}
	return &punktModel{name: name, sentences: tok}, nil
}

// newPunktModel builds a model from Punkt training data.
func newPunktModel(name string, training []byte) (Model, error) {
	storage, err := sentences.LoadTraining(training)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load punkt training data")
	}
	return &punktModel{name: name, sentences: sentences.NewSentenceTokenizer(storage)}, nil
}

// punktAsset returns the bundled training data for language, e.g. "english".
func punktAsset(language string) ([]byte, error) {
	if language == "" || strings.ContainsAny(language, `/\.`) {
		return nil, errors.Wrapf(errPackageNotFound, "invalid punkt language %q", language)
	}
	b, err := data.Asset("data/" + strings.ToLower(language) + ".json")
	if err != nil {
		return nil, errors.Wrapf(errPackageNotFound, "no bundled punkt model for %q", language)
	}
	return b, nil
}
