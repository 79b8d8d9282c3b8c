package render

import (
	"context"
	"strings"
	"sync"
	"time"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/errors"
	"subforge/internal/pkg/logger"
)

// DefaultStallTimeout applies when neither the coordinator nor the submit
// call sets one.
const DefaultStallTimeout = 60 * time.Second

// Channel carries requests and cancellations to the renderer. Send and
// Cancel must return once the message is handed off; rendering happens
// asynchronously.
type Channel interface {
	Send(ctx context.Context, req v1.RenderRequest) error
	Cancel(ctx context.Context, msg v1.CancelMessage) error
}

type Config struct {
	// StallTimeout is the default liveness window per operation.
	StallTimeout time.Duration
	Clock        Clock
	IDs          IDGenerator
	Bus          *Bus
	Log          *logger.Logger
}

// Options tune a single submission.
type Options struct {
	// Timeout overrides the coordinator's stall window when positive.
	Timeout time.Duration
	// OnProgress observes progress events. It runs on the delivering
	// goroutine outside the coordinator lock and may overlap resolution.
	OnProgress func(v1.ProgressEvent)
}

type pending struct {
	handle      *Handle
	timeout     time.Duration
	timer       Timer
	gen         uint64
	submitted   time.Time
	lastSeen    time.Time
	unsubscribe func()
	onProgress  func(v1.ProgressEvent)
	sampler     *logger.ProgressSampler
	log         *logger.Logger
}

// Coordinator owns the table of in-flight render operations. All mutation
// of the table happens under mu; channel I/O and caller callbacks run
// outside it.
type Coordinator struct {
	channel Channel
	bus     *Bus
	clock   Clock
	ids     IDGenerator
	timeout time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
}

func NewCoordinator(channel Channel, cfg Config) *Coordinator {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDv7Generator{}
	}
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	return &Coordinator{
		channel: channel,
		bus:     cfg.Bus,
		clock:   cfg.Clock,
		ids:     cfg.IDs,
		timeout: cfg.StallTimeout,
		log:     cfg.Log.WithComponent("render-coordinator"),
		pending: make(map[string]*pending),
	}
}

// Submit starts an operation and returns its handle. An empty
// req.OperationID is filled from the id generator. Every failure, including
// an invalid request or a failed send, is reported through the handle.
func (c *Coordinator) Submit(ctx context.Context, req v1.RenderRequest, opts Options) *Handle {
	req.OperationID = strings.TrimSpace(req.OperationID)
	if req.OperationID == "" {
		req.OperationID = c.ids.Generate()
	}
	id := req.OperationID
	h := newHandle(id)
	log := c.log.WithOperationID(id)

	if err := req.Validate(); err != nil {
		h.reject(err)
		return h
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.reject(closedError(id))
		return h
	}
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		h.reject(errors.AlreadyExists("render operation", id))
		return h
	}
	now := c.clock.Now()
	p := &pending{
		handle:     h,
		timeout:    timeout,
		submitted:  now,
		lastSeen:   now,
		onProgress: opts.OnProgress,
		sampler:    logger.NewProgressSampler(0),
		log:        log,
	}
	c.pending[id] = p
	c.armLocked(id, p)
	p.unsubscribe = c.bus.SubscribeOperation(id, func(ev v1.Event) { c.route(id, ev) })
	c.mu.Unlock()

	log.Debug("render submitted", "timeout_ms", timeout.Milliseconds())

	if err := c.channel.Send(ctx, req); err != nil {
		if c.take(id, p) {
			log.Warn("render dispatch failed", "error", err.Error())
			h.reject(dispatchError(id, err))
		} else {
			log.Warn("render dispatch failed after operation resolved", "error", err.Error())
		}
	}
	return h
}

// Deliver routes an inbound event to its operation. Events for operations
// that are not pending are logged and dropped.
func (c *Coordinator) Deliver(ev v1.Event) {
	if err := ev.Validate(); err != nil {
		c.log.Warn("dropping malformed render event", "error", err.Error())
		return
	}
	if c.bus.Publish(ev) == 0 {
		c.stale(ev)
	}
}

// Cancel asks the renderer to stop a pending operation. It does not resolve
// the handle; the operation still ends through a result or a stall.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	_, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return errors.NotFound("render operation", id)
	}

	c.log.WithOperationID(id).Info("render cancel requested")
	if err := c.channel.Cancel(ctx, v1.CancelMessage{OperationID: id}); err != nil {
		return dispatchError(id, err)
	}
	return nil
}

// StallTimeout returns the window applied to submissions without their own.
func (c *Coordinator) StallTimeout() time.Duration {
	return c.timeout
}

// Pending returns the number of in-flight operations.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsPending reports whether id is in flight.
func (c *Coordinator) IsPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Close rejects every pending operation as unavailable and refuses further
// submissions. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	drained := c.pending
	c.pending = make(map[string]*pending)
	for _, p := range drained {
		p.timer.Stop()
		p.gen++
	}
	c.mu.Unlock()

	for id, p := range drained {
		p.unsubscribe()
		p.handle.reject(closedError(id))
	}
	if len(drained) > 0 {
		c.log.Info("render coordinator closed", "rejected", len(drained))
	}
}

func (c *Coordinator) route(id string, ev v1.Event) {
	switch {
	case ev.Progress != nil:
		c.progress(id, *ev.Progress)
	case ev.Result != nil:
		c.result(id, *ev.Result)
	}
}

func (c *Coordinator) progress(id string, ev v1.ProgressEvent) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		c.stale(v1.ProgressOf(ev))
		return
	}
	p.timer.Stop()
	p.lastSeen = c.clock.Now()
	c.armLocked(id, p)
	logIt := p.sampler.ShouldLog(ev.Percent, ev.Stage)
	cb := p.onProgress
	c.mu.Unlock()

	if logIt {
		p.log.Debug("render progress", "percent", ev.Percent, "stage", ev.Stage)
	}
	if cb != nil {
		cb(ev)
	}
}

func (c *Coordinator) result(id string, ev v1.ResultEvent) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		c.stale(v1.ResultOf(ev))
		return
	}
	c.removeLocked(id, p)
	elapsed := c.clock.Now().Sub(p.submitted)
	c.mu.Unlock()

	p.unsubscribe()
	res := Result{Success: ev.Success, OutputPath: ev.OutputPath, Error: ev.Error}
	if ev.Success {
		p.log.Info("render succeeded", "output_path", ev.OutputPath, "duration_ms", elapsed.Milliseconds())
		p.handle.settle(res, nil)
		return
	}
	p.log.Warn("render failed", "error", ev.Error, "duration_ms", elapsed.Milliseconds())
	p.handle.settle(res, failureError(id, ev.Error))
}

func (c *Coordinator) expire(id string, gen uint64) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || p.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	now := c.clock.Now()
	idle, total := now.Sub(p.lastSeen), now.Sub(p.submitted)
	c.mu.Unlock()

	p.unsubscribe()
	p.log.Warn("render stalled", "idle_ms", idle.Milliseconds(), "timeout_ms", p.timeout.Milliseconds())
	p.handle.reject(stallError(id, idle, p.timeout, total))
}

// armLocked schedules a fresh stall timer. Bumping gen invalidates any
// callback of an earlier timer that already fired but has not yet taken
// the lock.
func (c *Coordinator) armLocked(id string, p *pending) {
	p.gen++
	gen := p.gen
	p.timer = c.clock.AfterFunc(p.timeout, func() { c.expire(id, gen) })
}

func (c *Coordinator) removeLocked(id string, p *pending) {
	delete(c.pending, id)
	p.timer.Stop()
	p.gen++
}

// take removes p if it is still the pending entry for id.
func (c *Coordinator) take(id string, p *pending) bool {
	c.mu.Lock()
	cur, ok := c.pending[id]
	if !ok || cur != p {
		c.mu.Unlock()
		return false
	}
	c.removeLocked(id, p)
	c.mu.Unlock()
	p.unsubscribe()
	return true
}

func (c *Coordinator) stale(ev v1.Event) {
	c.log.Warn("dropping stale render event",
		"operation_id", ev.OperationID(),
		"event", string(ev.Type),
	)
}
