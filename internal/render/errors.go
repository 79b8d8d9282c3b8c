package render

import (
	"fmt"
	"time"

	"subforge/internal/pkg/errors"
)

func stallError(id string, idle, timeout, total time.Duration) error {
	return errors.New(errors.CodeRenderStalled,
		fmt.Sprintf("render operation %s stalled: no progress for %s", id, idle.Round(time.Millisecond))).
		WithFields(map[string]any{
			"operation_id": id,
			"elapsed_ms":   idle.Milliseconds(),
			"timeout_ms":   timeout.Milliseconds(),
			"total_ms":     total.Milliseconds(),
		})
}

// failureError carries the renderer's message verbatim.
func failureError(id, remote string) error {
	if remote == "" {
		remote = "renderer reported failure"
	}
	return errors.New(errors.CodeRenderFailed, remote).WithField("operation_id", id)
}

func dispatchError(id string, err error) error {
	return errors.WrapWithCode(err, errors.CodeDispatchFailed, "render.dispatch", "send render request").
		WithField("operation_id", id)
}

func closedError(id string) error {
	return errors.Unavailable("render coordinator").WithField("operation_id", id)
}

// IsStalled reports whether err is a local stall timeout.
func IsStalled(err error) bool {
	return errors.IsCode(err, errors.CodeRenderStalled)
}

// IsFailed reports whether the renderer itself reported failure.
func IsFailed(err error) bool {
	return errors.IsCode(err, errors.CodeRenderFailed)
}

// IsDispatchFailed reports whether the request never reached the renderer.
func IsDispatchFailed(err error) bool {
	return errors.IsCode(err, errors.CodeDispatchFailed)
}
