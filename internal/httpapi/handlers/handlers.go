package handlers

import (
	"context"
	"time"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/models"
	"subforge/internal/pkg/logger"
	"subforge/internal/ports"
)

// Renders is the render service as the handlers use it.
type Renders interface {
	Submit(ctx context.Context, req v1.RenderRequest, timeout time.Duration) (*models.RenderOperation, error)
	Get(ctx context.Context, id string) (*models.RenderOperation, error)
	List(ctx context.Context, limit int) ([]models.RenderOperation, error)
	Cancel(ctx context.Context, id string) error
	Deliver(ev v1.Event)
}

type Assets interface {
	Get(ctx context.Context, id string) (*models.Asset, error)
}

// Pinger is a dependency probed by the deep health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Renders Renders
	Assets  Assets
	SP      ports.StorageProvider
	// Checks are probed by name on GET /health?deep=true.
	Checks map[string]Pinger
	Log    *logger.Logger
}

type Handler struct {
	renders Renders
	assets  Assets
	sp      ports.StorageProvider
	checks  map[string]Pinger
	log     *logger.Logger
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	return &Handler{
		renders: d.Renders,
		assets:  d.Assets,
		sp:      d.SP,
		checks:  d.Checks,
		log:     d.Log.WithComponent("http"),
	}
}

func (h *Handler) Log() *logger.Logger {
	return h.log
}
