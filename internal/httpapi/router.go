package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"subforge/internal/httpapi/handlers"
	"subforge/internal/httpkit"
	"subforge/internal/pkg/middleware"
)

// RequestTimeout bounds every handler except asset streaming.
const RequestTimeout = 60 * time.Second

type Options struct {
	CORSAllowedOrigins []string
}

func NewRouter(h *handlers.Handler, opt Options) http.Handler {
	log := h.Log()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   opt.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(RequestTimeout))

		r.Post("/alignments", wrap(h.PostAlignments))
		r.Post("/alignments/display", wrap(h.PostDisplay))

		r.Post("/renders", wrap(h.PostRender))
		r.Get("/renders", wrap(h.ListRenders))
		r.Get("/renders/{operationId}", wrap(h.GetRender))
		r.Post("/renders/{operationId}/cancel", wrap(h.CancelRender))
		r.Post("/renders/{operationId}/events", wrap(h.PostRenderEvent))

		r.Get("/assets/{assetId}", wrap(h.GetAsset))
	})
	r.Get("/assets/{assetId}/content", wrap(h.StreamAsset))

	return r
}
