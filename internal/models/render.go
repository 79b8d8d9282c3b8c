package models

import "time"

type RenderStatus string

const (
	RenderPending        RenderStatus = "PENDING"
	RenderSucceeded      RenderStatus = "SUCCEEDED"
	RenderFailed         RenderStatus = "FAILED"
	RenderStalled        RenderStatus = "STALLED"
	RenderDispatchFailed RenderStatus = "DISPATCH_FAILED"
)

// Terminal reports whether no further transition is expected.
func (s RenderStatus) Terminal() bool {
	return s != RenderPending
}

// RenderOperation is the journal row of one render submission.
type RenderOperation struct {
	ID              string       `json:"id"`
	Status          RenderStatus `json:"status"`
	StallTimeoutMS  int64        `json:"stall_timeout_ms"`
	Owner           string       `json:"owner,omitempty"`
	ProgressPercent float64      `json:"progress_percent"`
	ProgressStage   string       `json:"progress_stage,omitempty"`
	OutputPath      string       `json:"output_path,omitempty"`
	ErrorCode       string       `json:"error_code,omitempty"`
	ErrorText       string       `json:"error_text,omitempty"`
	CancelRequested bool         `json:"cancel_requested"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
	Assets          []Asset      `json:"assets,omitempty"`
}

// Asset is a stored file produced by a render.
type Asset struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id,omitempty"`
	Kind        string    `json:"kind"`
	Provider    string    `json:"provider"`
	ObjectKey   string    `json:"object_key"`
	Mime        string    `json:"mime"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}
