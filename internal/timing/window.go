package timing

// DefaultWindowSize is the number of tokens a caption line shows at once
// when the caller does not choose.
const DefaultWindowSize = 5

// Window is the half-open index range [From, To) of tokens on display.
type Window struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Len returns the number of indices in the window.
func (w Window) Len() int {
	return w.To - w.From
}

// SelectWindow picks at most size consecutive indices out of count, centered
// on active where the bounds allow. Near either end the window slides
// instead of running past the boundary. An active index of -1 anchors the
// window at the first token.
func SelectWindow(count, active, size int) Window {
	if count <= 0 || size <= 0 {
		return Window{}
	}
	if size >= count {
		return Window{From: 0, To: count}
	}
	active = min(max(active, 0), count-1)

	from := max(active-size/2, 0)
	to := from + size
	if to > count {
		to = count
		from = to - size
	}
	return Window{From: from, To: to}
}

// Frame is what a caption line shows at one playback instant.
type Frame struct {
	Active int `json:"active"`
	Window
}

// Display locates the token active at t and the window shown around it.
func Display(tokens []TokenTiming, t float64, size int) Frame {
	active := ActiveIndex(tokens, t)
	return Frame{
		Active: active,
		Window: SelectWindow(len(tokens), active, size),
	}
}
