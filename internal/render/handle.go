package render

import (
	"context"
	"sync"
)

// Result is the terminal outcome of a render operation.
type Result struct {
	OperationID string `json:"operation_id"`
	Success     bool   `json:"success"`
	OutputPath  string `json:"output_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Handle is the caller's view of one submitted operation. It resolves
// exactly once.
type Handle struct {
	id   string
	once sync.Once
	done chan struct{}

	result Result
	err    error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

func (h *Handle) OperationID() string {
	return h.id
}

// Done is closed once the operation has resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the operation resolves or ctx ends. Giving up on ctx
// leaves the operation running; cancel it through the coordinator.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return Result{OperationID: h.id}, ctx.Err()
	}
}

// settle records the outcome and reports whether this call won.
func (h *Handle) settle(res Result, err error) bool {
	won := false
	h.once.Do(func() {
		res.OperationID = h.id
		h.result, h.err = res, err
		close(h.done)
		won = true
	})
	return won
}

func (h *Handle) reject(err error) bool {
	return h.settle(Result{Success: false, Error: err.Error()}, err)
}
