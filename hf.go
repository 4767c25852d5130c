package nlp

import (
	"unicode"
	"unicode/utf8"

	"github.com/amikos-tech/pure-nlp/tokenizers"
	"github.com/pkg/errors"
)

// encoder is the part of *tokenizers.Tokenizer used by hfModel.
type encoder interface {
	Encode(message string, opts ...tokenizers.EncodeOption) (*tokenizers.EncodeResult, error)
	Close() error
}

// hfModel segments text with a HuggingFace tokenizer. Token surface text is
// taken from the encoding offsets, not from the vocabulary pieces.
type hfModel struct {
	name string
	enc  encoder
}

func (m *hfModel) Name() string { return m.name }

func (m *hfModel) Close() error { return m.enc.Close() }

func (m *hfModel) Segment(text string) ([]Span, error) {
	res, err := m.enc.Encode(text, tokenizers.WithReturnOffsets())
	if err != nil {
		return nil, err
	}
	if res.Len() > 0 && len(res.Offsets) == 0 {
		return nil, errors.New("tokenizer returned no offsets")
	}
	return offsetSpans(text, res), nil
}

// offsetSpans turns encoding offsets into token spans. Offsets are widened
// to rune boundaries and trimmed of surrounding whitespace; tokens sharing
// bytes with their predecessor (byte-level pieces of one rune) are merged
// into it; empty spans, such as those of special tokens, are dropped.
func offsetSpans(text string, res *tokenizers.EncodeResult) []Span {
	spans := make([]Span, 0, res.Len())
	for i := 0; i < res.Len(); i++ {
		start, end, ok := res.Offset(i)
		if !ok {
			break
		}
		start, end = clampSpan(text, start, end)
		if start >= end {
			continue
		}
		if n := len(spans); n > 0 && start < spans[n-1].End {
			spans[n-1].End = max(spans[n-1].End, end)
			continue
		}
		spans = append(spans, Span{start, end})
	}
	return spans
}

func clampSpan(text string, start, end int) (int, int) {
	end = min(end, len(text))
	start = min(max(start, 0), end)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for start < end {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}
