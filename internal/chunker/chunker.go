// Package chunker splits document content into ordered, non-overlapping
// character spans that round-trip exactly through the out-of-process
// embedding provider. Every mode is deterministic: the same text, mode, and
// parameters always produce identical spans.
package chunker

import (
	"fmt"
	"regexp"
)

// Span is a half-open character range [Start, End) into the source text.
type Span struct {
	Start int
	End   int
}

// Mode selects a chunking strategy.
type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeSentence Mode = "sentence"
	ModeSemantic Mode = "semantic"
)

// sentenceBoundary matches the ASCII-only sentence terminators the contract
// requires; Unicode segmentation is explicitly out of scope.
var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

// Chunk produces spans over text for the given mode and max character budget.
// scorer is only consulted in ModeSemantic and may be nil (falls back to a
// deterministic paragraph-boundary scorer).
func Chunk(text string, mode Mode, maxChars int, scorer SemanticBoundaryScorer) ([]Span, error) {
	switch mode {
	case ModeFixed:
		return chunkFixed(text, maxChars), nil
	case ModeSentence:
		return chunkSentence(text, maxChars), nil
	case ModeSemantic:
		if scorer == nil {
			scorer = ParagraphBoundaryScorer{}
		}
		return chunkSemantic(text, maxChars, scorer)
	default:
		return nil, fmt.Errorf("unknown chunk mode %q", mode)
	}
}

// chunkFixed returns windows of exactly maxChars characters, except the
// tail. A non-positive maxChars yields no spans.
func chunkFixed(text string, maxChars int) []Span {
	if maxChars < 1 || len(text) == 0 {
		return nil
	}
	var spans []Span
	for start := 0; start < len(text); start += maxChars {
		end := start + maxChars
		if end > len(text) {
			end = len(text)
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}

// chunkSentence greedily appends sentences to the current chunk while the
// budget allows, closing at the last sentence boundary once the next
// sentence would exceed maxChars. A single oversized sentence is emitted
// whole rather than cut mid-sentence. When the text has no sentence
// boundary, the whole text is returned as one span.
func chunkSentence(text string, maxChars int) []Span {
	if len(text) == 0 {
		return nil
	}
	boundaries := sentenceEnds(text)
	if len(boundaries) == 0 {
		return []Span{{Start: 0, End: len(text)}}
	}

	var spans []Span
	chunkStart := 0
	segStart := 0
	for _, segEnd := range boundaries {
		if segEnd-chunkStart > maxChars && segStart > chunkStart {
			// Closing here keeps the chunk within budget; the new sentence
			// starts a fresh chunk.
			spans = append(spans, Span{Start: chunkStart, End: segStart})
			chunkStart = segStart
		}
		segStart = segEnd
	}
	if len(text)-chunkStart > maxChars && segStart > chunkStart {
		spans = append(spans, Span{Start: chunkStart, End: segStart})
		chunkStart = segStart
	}
	spans = append(spans, Span{Start: chunkStart, End: len(text)})
	return spans
}

// sentenceEnds returns, for each sentence boundary match, the index right
// after the trailing punctuation (before the whitespace that follows it) —
// i.e. where the prior sentence's span should end.
func sentenceEnds(text string) []int {
	locs := sentenceBoundary.FindAllStringIndex(text, -1)
	ends := make([]int, 0, len(locs))
	for _, loc := range locs {
		ends = append(ends, loc[0]+len(trimTrailingWhitespaceFree(text[loc[0]:loc[1]])))
	}
	return ends
}

// trimTrailingWhitespaceFree strips the whitespace suffix matched by the
// boundary regex, leaving only the punctuation run.
func trimTrailingWhitespaceFree(match string) string {
	i := len(match)
	for i > 0 && isSpace(match[i-1]) {
		i--
	}
	return match[:i]
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// SemanticBoundaryScorer scores candidate break points in text; higher
// scores indicate a stronger topic boundary. It is the pluggable surface
// the chunker allows without mandating a concrete model-backed implementation.
type SemanticBoundaryScorer interface {
	// Boundaries returns candidate break offsets into text, ordered
	// ascending, each a strong place to end a chunk.
	Boundaries(text string) []int
}

// ParagraphBoundaryScorer is the default, model-free semantic scorer: it
// treats blank-line-separated paragraphs as topic boundaries. Deterministic
// and needs no external inference call, so the pipeline is fully testable
// without a live model.
type ParagraphBoundaryScorer struct{}

func (ParagraphBoundaryScorer) Boundaries(text string) []int {
	var offs []int
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '\n' && text[i+1] == '\n' {
			offs = append(offs, i+2)
		}
	}
	return offs
}

// chunkSemantic packs paragraphs (or whatever the scorer proposes as
// boundaries) into chunks up to maxChars. Only the final chunk falls back to
// the sentence splitter when it is over budget; an earlier single paragraph
// longer than maxChars is emitted whole as one chunk.
func chunkSemantic(text string, maxChars int, scorer SemanticBoundaryScorer) ([]Span, error) {
	if len(text) == 0 {
		return nil, nil
	}
	boundaries := scorer.Boundaries(text)
	if len(boundaries) == 0 {
		return chunkSentence(text, maxChars), nil
	}

	var spans []Span
	chunkStart := 0
	segStart := 0
	for _, b := range boundaries {
		if b <= segStart || b > len(text) {
			continue
		}
		if b-chunkStart > maxChars && segStart > chunkStart {
			spans = append(spans, Span{Start: chunkStart, End: segStart})
			chunkStart = segStart
		}
		segStart = b
	}
	if chunkStart < len(text) {
		tail := text[chunkStart:]
		if len(tail) > maxChars {
			for _, s := range chunkSentence(tail, maxChars) {
				spans = append(spans, Span{Start: chunkStart + s.Start, End: chunkStart + s.End})
			}
		} else {
			spans = append(spans, Span{Start: chunkStart, End: len(text)})
		}
	}
	return spans, nil
}
