// Package renders journals render operations around the coordinator and
// publishes their outputs once they succeed.
package renders

import (
	"context"
	"strings"
	"sync"
	"time"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/models"
	"subforge/internal/pkg/errors"
	"subforge/internal/pkg/logger"
	"subforge/internal/render"
)

// journalTimeout bounds each journal write made off the request path.
const journalTimeout = 10 * time.Second

// DefaultPublishTimeout bounds uploading the outputs of one render.
const DefaultPublishTimeout = 10 * time.Minute

// Journal persists the lifecycle of render operations.
type Journal interface {
	Create(ctx context.Context, op *models.RenderOperation) error
	UpdateProgress(ctx context.Context, id string, percent float64, stage string) error
	Finish(ctx context.Context, id string, status models.RenderStatus, outputPath, errorCode, errorText string) error
	MarkCancelRequested(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.RenderOperation, error)
	ListRecent(ctx context.Context, limit int) ([]models.RenderOperation, error)
}

type AssetLister interface {
	ListByOperation(ctx context.Context, operationID string) ([]models.Asset, error)
}

type Publisher interface {
	Publish(ctx context.Context, operationID, outputPath string) ([]models.Asset, error)
}

type Config struct {
	// Owner tags journal rows with the instance that submitted them.
	Owner string
	// PublishTimeout bounds one output upload. Zero means
	// DefaultPublishTimeout.
	PublishTimeout time.Duration
	IDs            render.IDGenerator
	Log            *logger.Logger
}

type Service struct {
	coord     *render.Coordinator
	journal   Journal
	assets    AssetLister
	publisher Publisher
	progress  *progressWriter
	ids       render.IDGenerator
	owner     string
	publishTO time.Duration
	log       *logger.Logger

	wg sync.WaitGroup
}

// New builds the service. publisher may be nil, in which case successful
// renders are journaled without uploading anything.
func New(coord *render.Coordinator, journal Journal, assets AssetLister, publisher Publisher, cfg Config) *Service {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.IDs == nil {
		cfg.IDs = render.UUIDv7Generator{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	log := cfg.Log.WithComponent("renders")
	return &Service{
		coord:     coord,
		journal:   journal,
		assets:    assets,
		publisher: publisher,
		progress:  newProgressWriter(journal, log),
		ids:       cfg.IDs,
		owner:     cfg.Owner,
		publishTO: cfg.PublishTimeout,
		log:       log,
	}
}

// Submit journals a pending operation and hands it to the coordinator. The
// returned record is the PENDING row; the outcome is journaled once the
// operation resolves. A non-positive timeout leaves the coordinator's
// stall window in effect.
func (s *Service) Submit(ctx context.Context, req v1.RenderRequest, timeout time.Duration) (*models.RenderOperation, error) {
	req.OperationID = strings.TrimSpace(req.OperationID)
	if req.OperationID == "" {
		req.OperationID = s.ids.Generate()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	window := timeout
	if window <= 0 {
		timeout, window = 0, s.coord.StallTimeout()
	}

	op := &models.RenderOperation{
		ID:             req.OperationID,
		Status:         models.RenderPending,
		StallTimeoutMS: window.Milliseconds(),
		Owner:          s.owner,
	}
	if err := s.journal.Create(ctx, op); err != nil {
		return nil, err
	}

	log := s.log.WithOperationID(op.ID)
	var sampleMu sync.Mutex
	sampler := logger.NewProgressSampler(0)
	h := s.coord.Submit(ctx, req, render.Options{
		Timeout: timeout,
		OnProgress: func(ev v1.ProgressEvent) {
			sampleMu.Lock()
			keep := sampler.ShouldLog(ev.Percent, ev.Stage)
			sampleMu.Unlock()
			if keep {
				s.progress.offer(ev)
			}
		},
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.await(h, log)
	}()

	log.Info("render accepted", "timeout_ms", op.StallTimeoutMS)
	return op, nil
}

func (s *Service) await(h *render.Handle, log *logger.Logger) {
	res, err := h.Wait(context.Background())

	status, outputPath := models.RenderSucceeded, res.OutputPath
	var code, text string
	if err == nil && s.publisher != nil && outputPath != "" {
		pctx, cancel := context.WithTimeout(context.Background(), s.publishTO)
		_, perr := s.publisher.Publish(pctx, h.OperationID(), outputPath)
		cancel()
		if perr != nil {
			err = perr
		}
	}
	if err != nil {
		status = statusOf(err)
		code, text = string(errors.GetCode(err)), messageOf(err)
		log.Warn("render finished unsuccessfully", "status", status, "error_code", code, "error", text)
	} else {
		log.Info("render succeeded", "output_path", outputPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if ferr := s.journal.Finish(ctx, h.OperationID(), status, outputPath, code, text); ferr != nil {
		log.LogError(ctx, "journal outcome failed", ferr)
	}
}

// Cancel forwards a cancel request and records it. The operation still ends
// through a result or a stall.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.coord.Cancel(ctx, id); err != nil {
		return err
	}
	if err := s.journal.MarkCancelRequested(ctx, id); err != nil {
		s.log.WithOperationID(id).Warn("journal cancel failed", "error", err.Error())
	}
	return nil
}

// Get returns the journal record with its assets.
func (s *Service) Get(ctx context.Context, id string) (*models.RenderOperation, error) {
	op, err := s.journal.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.assets != nil && op.Status == models.RenderSucceeded {
		assets, err := s.assets.ListByOperation(ctx, id)
		if err != nil {
			return nil, err
		}
		op.Assets = assets
	}
	return op, nil
}

// List returns the most recent operations, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]models.RenderOperation, error) {
	return s.journal.ListRecent(ctx, limit)
}

// Deliver passes a renderer callback event to the coordinator.
func (s *Service) Deliver(ev v1.Event) {
	s.coord.Deliver(ev)
}

// Close waits for every outstanding operation to be journaled, then for
// queued progress writes, or for ctx to end. Close the coordinator first so
// pending handles resolve.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.progress.stop(ctx)
}

func statusOf(err error) models.RenderStatus {
	switch {
	case render.IsStalled(err):
		return models.RenderStalled
	case render.IsDispatchFailed(err):
		return models.RenderDispatchFailed
	default:
		return models.RenderFailed
	}
}

// messageOf prefers the coded message so a renderer's error text is stored
// verbatim.
func messageOf(err error) string {
	var e *errors.Error
	if errors.As(err, &e) && e.Err == nil {
		return e.Message
	}
	return err.Error()
}
