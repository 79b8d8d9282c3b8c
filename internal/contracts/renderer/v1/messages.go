// Package v1 defines the messages exchanged with an out-of-process
// renderer that turns timed captions into a styled overlay image sequence.
//
// Requests and cancellations flow out; progress and result events flow
// back, correlated by operation_id.
package v1

import (
	"math"
	"strings"

	"subforge/internal/pkg/errors"
	"subforge/internal/timing"
)

// Cue is one caption line of a render request. Words carries the per-token
// timings relative to Start when the line was aligned.
type Cue struct {
	Start float64              `json:"start"`
	End   float64              `json:"end"`
	Text  string               `json:"text"`
	Words []timing.TokenTiming `json:"words,omitempty"`
}

// RenderRequest asks the renderer to produce an overlay for one video.
// Either SRTContent or Cues must be set.
type RenderRequest struct {
	OperationID   string  `json:"operation_id"`
	SRTContent    string  `json:"srt_content,omitempty"`
	Cues          []Cue   `json:"cues,omitempty"`
	VideoDuration float64 `json:"video_duration"`
	VideoWidth    int     `json:"video_width"`
	VideoHeight   int     `json:"video_height"`
	FrameRate     float64 `json:"frame_rate"`
	StylePreset   string  `json:"style_preset,omitempty"`
	FontSizePx    int     `json:"font_size_px,omitempty"`
	OverlayMode   string  `json:"overlay_mode,omitempty"`
}

// Validate checks the request before it is sent.
func (r RenderRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.OperationID) == "":
		return errors.ValidationField("operation_id", "operation_id is required")
	case strings.TrimSpace(r.SRTContent) == "" && len(r.Cues) == 0:
		return errors.ValidationField("cues", "srt_content or cues is required")
	case !(r.VideoDuration > 0) || math.IsInf(r.VideoDuration, 0):
		return errors.ValidationField("video_duration", "video_duration must be positive")
	case r.VideoWidth <= 0 || r.VideoHeight <= 0:
		return errors.ValidationField("video_width", "video dimensions must be positive")
	case !(r.FrameRate > 0) || math.IsInf(r.FrameRate, 0):
		return errors.ValidationField("frame_rate", "frame_rate must be positive")
	case r.FontSizePx < 0:
		return errors.ValidationField("font_size_px", "font_size_px must not be negative")
	}
	return nil
}

// ProgressEvent reports that a render is alive and how far it got.
type ProgressEvent struct {
	OperationID string  `json:"operation_id"`
	Percent     float64 `json:"percent"`
	Stage       string  `json:"stage"`
}

// Validate checks the event shape.
func (e ProgressEvent) Validate() error {
	if strings.TrimSpace(e.OperationID) == "" {
		return errors.ValidationField("operation_id", "operation_id is required")
	}
	if math.IsNaN(e.Percent) || e.Percent < 0 || e.Percent > 100 {
		return errors.ValidationField("percent", "percent must be within 0-100")
	}
	return nil
}

// ResultEvent is the terminal report of a render.
type ResultEvent struct {
	OperationID string `json:"operation_id"`
	Success     bool   `json:"success"`
	OutputPath  string `json:"output_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Validate checks the event shape.
func (e ResultEvent) Validate() error {
	if strings.TrimSpace(e.OperationID) == "" {
		return errors.ValidationField("operation_id", "operation_id is required")
	}
	return nil
}

// CancelMessage asks the renderer to stop an operation. Delivery is best effort.
type CancelMessage struct {
	OperationID string `json:"operation_id"`
}
