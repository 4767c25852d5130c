package nlp

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	prefixRunes = "\"'([{<¿¡$£€#“‘«*"
	suffixRunes = "\"')]}>,;:!?%”’»…*"
)

// contractions are split off the end of a word, longest first. Matching is
// case-insensitive; the surface form keeps the input's case.
var contractions = []string{
	"n't", "n’t",
	"'ll", "’ll", "'re", "’re", "'ve", "’ve",
	"'s", "’s", "'d", "’d", "'m", "’m",
}

// segmentWords splits text into word-level spans. A period closing a chunk
// is split off only when sentenceEnd reports a boundary right after it, so
// abbreviations inside a sentence keep their period.
func segmentWords(text string, sentenceEnd func(offset int) bool) []Span {
	var spans []Span
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		spans = appendChunk(spans, text, start, i, sentenceEnd(i))
	}
	return spans
}

// appendChunk appends the spans of the whitespace-free chunk text[start:end].
func appendChunk(spans []Span, text string, start, end int, final bool) []Span {
	var suffixes []Span

	// prefixes
	for start < end && !isContraction(text[start:end]) {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !strings.ContainsRune(prefixRunes, r) || start+size == end {
			break
		}
		spans = append(spans, Span{start, start + size})
		start += size
	}

	// suffixes, collected right to left
	for start < end {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if r == '.' {
			dots := trailingDots(text[start:end])
			if dots == end-start {
				break
			}
			if dots > 1 {
				suffixes = append(suffixes, Span{end - dots, end})
				end -= dots
				continue
			}
			if !final {
				break
			}
			final = false
			suffixes = append(suffixes, Span{end - size, end})
			end -= size
			continue
		}
		if !strings.ContainsRune(suffixRunes, r) || start+size == end {
			break
		}
		suffixes = append(suffixes, Span{end - size, end})
		end -= size
	}

	if start < end {
		if cut := contractionCut(text[start:end]); cut > 0 {
			spans = append(spans, Span{start, start + cut}, Span{start + cut, end})
		} else {
			spans = append(spans, Span{start, end})
		}
	}

	for i := len(suffixes) - 1; i >= 0; i-- {
		spans = append(spans, suffixes[i])
	}
	return spans
}

func trailingDots(s string) int {
	n := 0
	for n < len(s) && s[len(s)-1-n] == '.' {
		n++
	}
	return n
}

// contractionCut returns the byte offset at which word splits into stem and
// contraction, or 0 when it does not end in one.
func contractionCut(word string) int {
	for _, c := range contractions {
		if len(word) > len(c) && strings.EqualFold(word[len(word)-len(c):], c) {
			return len(word) - len(c)
		}
	}
	return 0
}

func isContraction(s string) bool {
	for _, c := range contractions {
		if strings.EqualFold(s, c) {
			return true
		}
	}
	return false
}
