package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"subforge/internal/httpkit"
)

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) error {
	a, err := h.assets.Get(r.Context(), chi.URLParam(r, "assetId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"asset": a})
	return nil
}

// StreamAsset copies the stored object to the response.
func (h *Handler) StreamAsset(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	a, err := h.assets.Get(ctx, chi.URLParam(r, "assetId"))
	if err != nil {
		return err
	}

	rc, ct, size, err := h.sp.GetObject(ctx, a.ObjectKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	if ct == "" {
		ct = a.Mime
	}
	if size <= 0 {
		size = a.SizeBytes
	}
	w.Header().Set("Content-Type", ct)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(ctx).Warn("asset stream interrupted", "asset_id", a.ID, "error", err.Error())
	}
	return nil
}
