package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/httpkit"
	"subforge/internal/pkg/errors"
)

// CreateRenderRequest is a render request plus an optional stall window.
type CreateRenderRequest struct {
	v1.RenderRequest
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	var req CreateRenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "renders.decode", "invalid json body")
	}
	if req.TimeoutMS < 0 {
		return errors.ValidationField("timeout_ms", "timeout_ms must not be negative")
	}

	op, err := h.renders.Submit(r.Context(), req.RenderRequest, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"operation_id": op.ID,
		"status":       op.Status,
	})
	return nil
}

func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) error {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 200 {
			return errors.ValidationField("limit", "limit must be within 1-200")
		}
		limit = v
	}

	ops, err := h.renders.List(r.Context(), limit)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"renders": ops})
	return nil
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	op, err := h.renders.Get(r.Context(), chi.URLParam(r, "operationId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"render": op})
	return nil
}

func (h *Handler) CancelRender(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "operationId")
	if err := h.renders.Cancel(r.Context(), id); err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"operation_id":     id,
		"cancel_requested": true,
	})
	return nil
}

// PostRenderEvent accepts a renderer callback. Events for operations that
// are no longer pending are acknowledged and dropped.
func (h *Handler) PostRenderEvent(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "operationId")

	body, err := io.ReadAll(io.LimitReader(r.Body, httpkit.MaxBodyBytes))
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "renders.event", "read body")
	}
	ev, err := v1.DecodeEvent(body)
	if err != nil {
		return err
	}
	if ev.OperationID() != id {
		return errors.ValidationField("operation_id", "operation_id does not match the path").
			WithField("path_operation_id", id)
	}

	h.renders.Deliver(ev)
	w.WriteHeader(http.StatusNoContent)
	return nil
}
