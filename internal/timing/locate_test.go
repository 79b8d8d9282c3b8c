package timing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTimings() []TokenTiming {
	return []TokenTiming{
		{Start: 0, End: 0.5, Word: "one"},
		{Start: 0.6, End: 1.0, Word: "two"},
		{Start: 1.0, End: 1.4, Word: "three"},
		{Start: 2.0, End: 3.0, Word: "four"},
	}
}

func TestActiveIndex(t *testing.T) {
	tokens := sampleTimings()
	cases := []struct {
		name string
		at   float64
		want int
	}{
		{name: "first start inclusive", at: 0, want: 0},
		{name: "inside first", at: 0.25, want: 0},
		{name: "first end inclusive", at: 0.5, want: 0},
		{name: "gap", at: 0.55, want: -1},
		{name: "inside second", at: 0.8, want: 1},
		{name: "inside third", at: 1.2, want: 2},
		{name: "between third and fourth", at: 1.7, want: -1},
		{name: "last end inclusive", at: 3.0, want: 3},
		{name: "before all", at: -1, want: -1},
		{name: "after all", at: 10, want: -1},
		{name: "nan", at: math.NaN(), want: -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ActiveIndex(tokens, tc.at))
		})
	}
}

func TestActiveIndex_Empty(t *testing.T) {
	assert.Equal(t, -1, ActiveIndex(nil, 0))
}

func TestActiveIndex_MatchesLinearScan(t *testing.T) {
	tokens := Allocate(
		[]Beat{{Start: 0, End: 1}, {Start: 1.5, End: 2}, {Start: 2, End: 4}},
		"some longer translated caption line with words",
		4, "en",
	)
	for at := -0.5; at <= 4.5; at += 0.01 {
		want := -1
		for i, tok := range tokens {
			if tok.Start <= at && at <= tok.End {
				want = i
				break
			}
		}
		got := ActiveIndex(tokens, at)
		if want == -1 {
			assert.Equal(t, -1, got, "t=%v", at)
			continue
		}
		// Touching intervals share an endpoint; either neighbor is correct.
		assert.True(t, tokens[got].Start <= at && at <= tokens[got].End, "t=%v got=%d", at, got)
	}
}
