package timing

import (
	"math"
	"sort"
)

// Beat is the interval, in seconds, of one original-language word.
type Beat struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Word is a recognized word with absolute timestamps in seconds.
type Word struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Word  string  `json:"word,omitempty" yaml:"word,omitempty"`
}

// BeatsFromWords converts recognized words into beats relative to
// segmentStart. Words with non-finite timestamps, a non-positive span, or a
// start before the segment are dropped. The result is sorted by start.
func BeatsFromWords(words []Word, segmentStart float64) []Beat {
	beats := make([]Beat, 0, len(words))
	for _, w := range words {
		if !isFinite(w.Start) || !isFinite(w.End) {
			continue
		}
		b := Beat{Start: w.Start - segmentStart, End: w.End - segmentStart}
		if b.Start < 0 || b.End <= b.Start {
			continue
		}
		beats = append(beats, b)
	}
	sort.SliceStable(beats, func(i, j int) bool {
		return beats[i].Start < beats[j].Start
	})
	return beats
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
