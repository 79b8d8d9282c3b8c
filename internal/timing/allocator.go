package timing

import (
	"math"
	"sort"
)

// MinTokenSec is the shortest span, in seconds, a token is allotted before
// the end-of-beat clamp is applied.
const MinTokenSec = 0.06

// TokenTiming is the display interval of one token, relative to the start
// of its segment.
type TokenTiming struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Word  string  `json:"word" yaml:"word"`
}

// Allocate distributes the tokens of text over beats and returns one timing
// per surviving token, sorted by start and clamped into
// [0, segmentDuration]. An empty result means no timing could be derived:
// there were no beats, no tokens, or no positive duration.
//
// Token i lands in beat floor(i*n/m) for n beats and m tokens, so buckets
// are sized by rank alone. Inside a beat the clipped span is shared in
// proportion to token length with a floor of MinTokenSec; the last token of
// a beat, and any token that would run past it, ends at the beat's end.
func Allocate(beats []Beat, text string, segmentDuration float64, lang string) []TokenTiming {
	if len(beats) == 0 || !(segmentDuration > 0) {
		return nil
	}
	tokens := Tokenize(text, lang)
	if len(tokens) == 0 {
		return nil
	}

	sizes := BucketSizes(len(beats), len(tokens))
	timings := make([]TokenTiming, 0, len(tokens))
	offset := 0
	for b, size := range sizes {
		if size == 0 {
			continue
		}
		timings = spreadOverBeat(timings, beats[b], tokens[offset:offset+size], segmentDuration)
		offset += size
	}

	base := beats[0].Start
	for i := range timings {
		timings[i].Start -= base
		timings[i].End -= base
	}
	return settle(timings, segmentDuration)
}

// BucketSizes returns how many tokens each beat receives when tokens are
// assigned by rank. The sizes always sum to tokens.
func BucketSizes(beats, tokens int) []int {
	if beats <= 0 || tokens <= 0 {
		return nil
	}
	sizes := make([]int, beats)
	for i := 0; i < tokens; i++ {
		sizes[i*beats/tokens]++
	}
	return sizes
}

func spreadOverBeat(dst []TokenTiming, beat Beat, tokens []Token, segmentDuration float64) []TokenTiming {
	start := clamp(beat.Start, 0, segmentDuration)
	end := clamp(beat.End, 0, segmentDuration)
	span := end - start

	var total float64
	for _, tok := range tokens {
		total += tok.Weight()
	}

	cursor := start
	for i, tok := range tokens {
		tokEnd := cursor + math.Max(MinTokenSec, span*tok.Weight()/total)
		if i == len(tokens)-1 || tokEnd > end {
			tokEnd = end
		}
		dst = append(dst, TokenTiming{Start: cursor, End: tokEnd, Word: tok.Text})
		cursor = tokEnd
	}
	return dst
}

// settle clamps every timing into [0, segmentDuration], drops collapsed
// entries and orders the rest by start.
func settle(timings []TokenTiming, segmentDuration float64) []TokenTiming {
	kept := timings[:0]
	for _, t := range timings {
		t.Start = clamp(t.Start, 0, segmentDuration)
		t.End = clamp(t.End, 0, segmentDuration)
		if t.End <= t.Start {
			continue
		}
		kept = append(kept, t)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Start < kept[j].Start
	})
	return kept
}
