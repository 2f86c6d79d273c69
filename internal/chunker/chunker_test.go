package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_Fixed(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		maxChars   int
		wantSpans  []Span
	}{
		{
			name:     "exact multiple",
			text:     strings.Repeat("a", 20),
			maxChars: 10,
			wantSpans: []Span{
				{Start: 0, End: 10},
				{Start: 10, End: 20},
			},
		},
		{
			name:     "tail shorter than window",
			text:     strings.Repeat("a", 25),
			maxChars: 10,
			wantSpans: []Span{
				{Start: 0, End: 10},
				{Start: 10, End: 20},
				{Start: 20, End: 25},
			},
		},
		{
			name:      "invalid max_chars returns empty",
			text:      "hello",
			maxChars:  0,
			wantSpans: nil,
		},
		{
			name:      "empty text returns empty",
			text:      "",
			maxChars:  10,
			wantSpans: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans, err := Chunk(tt.text, ModeFixed, tt.maxChars, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSpans, spans)
		})
	}
}

func TestChunk_Sentence_NoBoundary(t *testing.T) {
	spans, err := Chunk("no punctuation here", ModeSentence, 5, nil)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, Span{Start: 0, End: 19}, spans[0])
}

func TestChunk_Sentence_GreedyPacking(t *testing.T) {
	text := "One. Two. Three. Four."
	spans, err := Chunk(text, ModeSentence, 9, nil)
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	assertContract(t, text, spans)
}

func TestChunk_Sentence_OversizedSentenceEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 50) + "."
	spans, err := Chunk(long, ModeSentence, 10, nil)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, len(long), spans[0].End)
}

func TestChunk_Idempotent(t *testing.T) {
	text := "First sentence. Second sentence. Third one here. And a fourth."
	a, err := Chunk(text, ModeSentence, 20, nil)
	require.NoError(t, err)
	b, err := Chunk(text, ModeSentence, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunk_Semantic_ParagraphBoundaries(t *testing.T) {
	text := "Para one line.\n\nPara two line.\n\nPara three line."
	spans, err := Chunk(text, ModeSemantic, 1000, nil)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assertContract(t, text, spans)
}

func TestChunk_Semantic_SplitsOnBudget(t *testing.T) {
	text := "Para one line.\n\nPara two line.\n\nPara three line."
	spans, err := Chunk(text, ModeSemantic, 20, nil)
	require.NoError(t, err)
	require.True(t, len(spans) > 1)
	assertContract(t, text, spans)
}

func TestChunk_UnknownMode(t *testing.T) {
	_, err := Chunk("x", Mode("bogus"), 10, nil)
	assert.Error(t, err)
}

// assertContract checks the invariants every chunker mode must satisfy:
// ordered, non-overlapping, in-bounds spans.
func assertContract(t *testing.T, text string, spans []Span) {
	t.Helper()
	for i, s := range spans {
		assert.True(t, s.Start < s.End, "span %d: start must be < end", i)
		assert.True(t, s.Start >= 0 && s.End <= len(text), "span %d out of bounds", i)
		if i > 0 {
			assert.True(t, spans[i-1].End <= s.Start, "span %d overlaps previous", i)
		}
	}
}
