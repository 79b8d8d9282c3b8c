package handlers

import (
	"math"
	"net/http"

	"subforge/internal/httpkit"
	"subforge/internal/pkg/errors"
	"subforge/internal/timing"
)

// AlignRequest carries one segment or a batch.
type AlignRequest struct {
	Segment  *timing.Segment  `json:"segment,omitempty"`
	Segments []timing.Segment `json:"segments,omitempty"`
}

type DisplayRequest struct {
	Tokens []timing.TokenTiming `json:"tokens"`
	At     float64              `json:"at"`
	Window int                  `json:"window,omitempty"`
}

type DisplayResponse struct {
	Index int `json:"index"`
	From  int `json:"from"`
	To    int `json:"to"`
}

// PostAlignments derives per-token timings. A segment without usable word
// timing comes back with available=false rather than an error.
func (h *Handler) PostAlignments(w http.ResponseWriter, r *http.Request) error {
	var req AlignRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "alignments.decode", "invalid json body")
	}

	segments := req.Segments
	if req.Segment != nil {
		segments = append([]timing.Segment{*req.Segment}, segments...)
	}
	if len(segments) == 0 {
		return errors.ValidationField("segments", "segment or segments is required")
	}

	out := make([]timing.Alignment, len(segments))
	unavailable := 0
	for i, seg := range segments {
		out[i] = timing.AlignSegment(seg)
		if !out[i].Available {
			unavailable++
		}
	}
	if unavailable > 0 {
		h.log.FromContext(r.Context()).Debug("alignment unavailable", "segments", len(segments), "unavailable", unavailable)
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"alignments": out})
	return nil
}

// PostDisplay reports the active token and visible window at a time.
func (h *Handler) PostDisplay(w http.ResponseWriter, r *http.Request) error {
	var req DisplayRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "alignments.display", "invalid json body")
	}
	if math.IsNaN(req.At) || math.IsInf(req.At, 0) {
		return errors.ValidationField("at", "at must be a finite time")
	}
	if req.Window < 0 {
		return errors.ValidationField("window", "window must not be negative")
	}
	if req.Window == 0 {
		req.Window = timing.DefaultWindowSize
	}

	f := timing.Display(req.Tokens, req.At, req.Window)
	httpkit.WriteJSON(w, http.StatusOK, DisplayResponse{Index: f.Active, From: f.From, To: f.To})
	return nil
}
