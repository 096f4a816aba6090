// Package chunker splits raw narrative text into bounded, sentence-respecting
// segments. Concatenating the returned chunks in order reproduces the input
// byte for byte; downstream character-offset bookkeeping depends on that.
//
// Size bound exception: a single sentence longer than maxChunkSize is emitted
// alone as an oversized chunk instead of being truncated mid-word.
package chunker

import (
	"unicode"
	"unicode/utf8"
)

// Chunk is one segment of the source text, sized for a single extraction call.
type Chunk struct {
	Index      int
	Text       string
	CharOffset int  // rune offset of Text within the source
	Oversized  bool // single sentence exceeding the requested size
}

// Split cuts text into ordered chunks of at most maxChunkSize characters,
// breaking only after a sentence terminator ('.', '!', '?') followed by
// whitespace. Returns nil for empty text or a non-positive size.
func Split(text string, maxChunkSize int) []Chunk {
	if text == "" || maxChunkSize <= 0 {
		return nil
	}

	ranges := sentenceRanges(text)
	chunks := make([]Chunk, 0, 4)

	curStart := 0      // byte offset of the open chunk
	curStartRunes := 0 // rune offset of the open chunk
	curRunes := 0      // rune length of the open chunk
	runes := 0         // cumulative rune offset at the current sentence

	flush := func(end int) {
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       text[curStart:end],
			CharOffset: curStartRunes,
		})
	}

	for _, rg := range ranges {
		sentRunes := utf8.RuneCountInString(text[rg[0]:rg[1]])
		switch {
		case sentRunes > maxChunkSize:
			if curRunes > 0 {
				flush(rg[0])
			}
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Text:       text[rg[0]:rg[1]],
				CharOffset: runes,
				Oversized:  true,
			})
			curStart = rg[1]
			curStartRunes = runes + sentRunes
			curRunes = 0
		case curRunes+sentRunes > maxChunkSize:
			flush(rg[0])
			curStart = rg[0]
			curStartRunes = runes
			curRunes = sentRunes
		default:
			curRunes += sentRunes
		}
		runes += sentRunes
	}
	if curRunes > 0 {
		flush(len(text))
	}

	return chunks
}

// sentenceRanges returns contiguous byte ranges covering all of text, each
// ending after a terminator run plus its trailing whitespace. A terminator
// with no following whitespace ("v1.2") does not end a sentence. The final
// range absorbs any text without a closing terminator.
func sentenceRanges(text string) [][2]int {
	var ranges [][2]int
	n := len(text)
	start := 0
	i := 0

	for i < n {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isTerminator(r) {
			i += size
			continue
		}

		// absorb a terminator run ("...", "?!")
		j := i + size
		for j < n {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !isTerminator(r2) {
				break
			}
			j += s2
		}

		if j >= n {
			ranges = append(ranges, [2]int{start, n})
			start = n
			break
		}

		r3, _ := utf8.DecodeRuneInString(text[j:])
		if !unicode.IsSpace(r3) {
			i = j
			continue
		}

		// absorb the whitespace run after the terminator
		k := j
		for k < n {
			r4, s4 := utf8.DecodeRuneInString(text[k:])
			if !unicode.IsSpace(r4) {
				break
			}
			k += s4
		}
		ranges = append(ranges, [2]int{start, k})
		start = k
		i = k
	}

	if start < n {
		ranges = append(ranges, [2]int{start, n})
	}
	return ranges
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
