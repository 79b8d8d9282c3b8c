package timing

// Segment is one caption line: its absolute interval, the translated text
// shown for it, and the original-language words recognized inside it.
type Segment struct {
	Start    float64 `json:"start" yaml:"start"`
	End      float64 `json:"end" yaml:"end"`
	Text     string  `json:"text" yaml:"text"`
	Language string  `json:"language,omitempty" yaml:"language,omitempty"`
	Words    []Word  `json:"words" yaml:"words"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Alignment is the per-token timing of a segment. When Available is false
// the line has no word timing and callers should surface that state
// instead of rendering untimed text.
type Alignment struct {
	Tokens    []TokenTiming `json:"tokens"`
	Available bool          `json:"available"`
}

// AlignSegment derives token timings for a segment.
func AlignSegment(seg Segment) Alignment {
	beats := BeatsFromWords(seg.Words, seg.Start)
	tokens := Allocate(beats, seg.Text, seg.Duration(), seg.Language)
	if tokens == nil {
		tokens = []TokenTiming{}
	}
	return Alignment{Tokens: tokens, Available: len(tokens) > 0}
}
