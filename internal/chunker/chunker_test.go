package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstruct(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

func TestSplitReconstructsInputExactly(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
	}{
		{"plain sentences", "The North remembers. Winter is coming! Is it though? Yes.", 20},
		{"no terminator at all", "an endless stream of words with no sentence break anywhere", 15},
		{"terminator runs", "Wait... what?! Fine. Done.", 10},
		{"no trailing terminator", "First sentence. Second half has no end", 16},
		{"newlines as whitespace", "One.\nTwo.\n\nThree.\tFour.", 8},
		{"dot inside token", "Release v1.2 shipped today. Next is v1.3 soon.", 30},
		{"unicode text", "Привет, мир. Ещё одно предложение! Конец?", 18},
		{"leading whitespace", "   padded. next one.", 12},
		{"single char", "x", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(tt.text, tt.size)
			require.NotEmpty(t, chunks)
			assert.Equal(t, tt.text, reconstruct(chunks))
		})
	}
}

func TestSplitRespectsSizeBound(t *testing.T) {
	text := strings.Repeat("Seven little words make up one sentence. ", 40)
	chunks := Split(text, 120)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		if !c.Oversized {
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 120,
				"chunk %d exceeds the bound", c.Index)
		}
	}
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplitBoundCountsRunesNotBytes(t *testing.T) {
	// 2-byte runes: the byte length of each chunk may exceed the bound,
	// the rune length may not.
	text := strings.Repeat("привет до свидания пока. ", 10)
	chunks := Split(text, 30)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		if !c.Oversized {
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 30)
		}
	}
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplitOversizedSentenceSitsAlone(t *testing.T) {
	long := strings.Repeat("w", 300) + ". "
	text := "Short one. " + long + "Tail sentence."

	chunks := Split(text, 50)
	require.Len(t, chunks, 3)

	assert.False(t, chunks[0].Oversized)
	assert.True(t, chunks[1].Oversized)
	assert.Greater(t, utf8.RuneCountInString(chunks[1].Text), 50)
	assert.False(t, chunks[2].Oversized)
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplitTwelveThousandCharsAtFiveThousand(t *testing.T) {
	// 120 sentences of exactly 100 characters: two full chunks, one partial.
	sentence := strings.Repeat("a", 98) + ". "
	require.Equal(t, 100, utf8.RuneCountInString(sentence))
	text := strings.Repeat(sentence, 120)
	require.Equal(t, 12_000, utf8.RuneCountInString(text))

	chunks := Split(text, 5_000)
	require.Len(t, chunks, 3)
	assert.Equal(t, 5_000, utf8.RuneCountInString(chunks[0].Text))
	assert.Equal(t, 5_000, utf8.RuneCountInString(chunks[1].Text))
	assert.Equal(t, 2_000, utf8.RuneCountInString(chunks[2].Text))
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplitCharOffsetsAreCumulativeRuneCounts(t *testing.T) {
	text := "Первое предложение тут. Second sentence here. Третье! Last bit."
	chunks := Split(text, 25)
	require.NotEmpty(t, chunks)

	offset := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, offset, c.CharOffset)
		offset += utf8.RuneCountInString(c.Text)
	}
	assert.Equal(t, utf8.RuneCountInString(text), offset)
}

func TestSplitBoundariesEndOnSentenceTerminators(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota. Kappa lambda."
	chunks := Split(text, 40)
	require.Greater(t, len(chunks), 1)

	// all but the last chunk end on terminator-plus-whitespace
	for _, c := range chunks[:len(chunks)-1] {
		trimmed := strings.TrimRight(c.Text, " \t\n")
		require.NotEmpty(t, trimmed)
		last := trimmed[len(trimmed)-1]
		assert.Contains(t, []byte{'.', '!', '?'}, last,
			"chunk %d ends mid-sentence: %q", c.Index, c.Text)
	}
}

func TestSplitDegenerateInputs(t *testing.T) {
	assert.Nil(t, Split("", 100))
	assert.Nil(t, Split("some text", 0))
	assert.Nil(t, Split("some text", -5))

	// whitespace-only input still reconstructs
	chunks := Split("   \n\t ", 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "   \n\t ", chunks[0].Text)
}
