package renders

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/models"
	"subforge/internal/pkg/errors"
	"subforge/internal/render"
)

type memJournal struct {
	mu       sync.Mutex
	ops      map[string]*models.RenderOperation
	progress []float64

	// progressGate, when set, holds every progress write until closed.
	progressGate chan struct{}
	// finishErr records the context state Finish observed.
	finishErr error
}

func newMemJournal() *memJournal {
	return &memJournal{ops: make(map[string]*models.RenderOperation)}
}

func (j *memJournal) Create(_ context.Context, op *models.RenderOperation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.ops[op.ID]; ok {
		return errors.AlreadyExists("render operation", op.ID)
	}
	cp := *op
	j.ops[op.ID] = &cp
	return nil
}

func (j *memJournal) UpdateProgress(ctx context.Context, id string, percent float64, stage string) error {
	if j.progressGate != nil {
		select {
		case <-j.progressGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	op := j.ops[id]
	if op == nil || op.Status.Terminal() {
		return nil
	}
	op.ProgressPercent, op.ProgressStage = percent, stage
	j.progress = append(j.progress, percent)
	return nil
}

func (j *memJournal) Finish(ctx context.Context, id string, status models.RenderStatus, outputPath, code, text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := ctx.Err(); err != nil {
		j.finishErr = err
		return err
	}
	op := j.ops[id]
	if op == nil || op.Status.Terminal() {
		return errors.NotFound("pending render operation", id)
	}
	op.Status, op.OutputPath, op.ErrorCode, op.ErrorText = status, outputPath, code, text
	return nil
}

func (j *memJournal) MarkCancelRequested(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops[id].CancelRequested = true
	return nil
}

func (j *memJournal) Get(_ context.Context, id string) (*models.RenderOperation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	op, ok := j.ops[id]
	if !ok {
		return nil, errors.NotFound("render operation", id)
	}
	cp := *op
	return &cp, nil
}

func (j *memJournal) ListRecent(_ context.Context, limit int) ([]models.RenderOperation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.RenderOperation, 0, len(j.ops))
	for _, op := range j.ops {
		if len(out) == limit {
			break
		}
		out = append(out, *op)
	}
	return out, nil
}

func (j *memJournal) progressOf(id string) float64 {
	op, err := j.Get(context.Background(), id)
	if err != nil {
		return -1
	}
	return op.ProgressPercent
}

func (j *memJournal) status(id string) models.RenderStatus {
	op, err := j.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return op.Status
}

type stubChannel struct {
	mu      sync.Mutex
	sent    []v1.RenderRequest
	cancels []string
	sendErr error
}

func (c *stubChannel) Send(_ context.Context, req v1.RenderRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, req)
	return c.sendErr
}

func (c *stubChannel) Cancel(_ context.Context, msg v1.CancelMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, msg.OperationID)
	return nil
}

type stubPublisher struct {
	mu    sync.Mutex
	calls map[string]string
	err   error
	// block makes Publish wait for its context to end.
	block bool
}

func (p *stubPublisher) Publish(ctx context.Context, id, outputPath string) ([]models.Asset, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = make(map[string]string)
	}
	p.calls[id] = outputPath
	block, err := p.block, p.err
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable, "publish", "upload outputs")
	}
	if err != nil {
		return nil, err
	}
	return []models.Asset{{ID: "ast_1", OperationID: id}}, nil
}

func (p *stubPublisher) ListByOperation(_ context.Context, id string) ([]models.Asset, error) {
	return []models.Asset{{ID: "ast_1", OperationID: id}}, nil
}

type fixture struct {
	svc     *Service
	coord   *render.Coordinator
	journal *memJournal
	channel *stubChannel
	pub     *stubPublisher
}

func newFixture(t *testing.T, stall time.Duration, ids ...string) *fixture {
	t.Helper()
	return newFixtureWith(t, stall, Config{IDs: render.NewFixedGenerator(ids...)}, newMemJournal())
}

func newFixtureWith(t *testing.T, stall time.Duration, cfg Config, journal *memJournal) *fixture {
	t.Helper()
	f := &fixture{journal: journal, channel: &stubChannel{}, pub: &stubPublisher{}}
	f.coord = render.NewCoordinator(f.channel, render.Config{StallTimeout: stall})
	if cfg.Owner == "" {
		cfg.Owner = "test-instance"
	}
	f.svc = New(f.coord, f.journal, f.pub, f.pub, cfg)
	t.Cleanup(func() {
		f.coord.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.svc.Close(ctx)
	})
	return f
}

func request() v1.RenderRequest {
	return v1.RenderRequest{
		SRTContent:    "1\n00:00:00,000 --> 00:00:01,000\nhello\n",
		VideoDuration: 1,
		VideoWidth:    1920,
		VideoHeight:   1080,
		FrameRate:     30,
	}
}

func TestSubmitSucceedsAndPublishes(t *testing.T) {
	f := newFixture(t, time.Second, "op-1")

	op, err := f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)
	assert.Equal(t, "op-1", op.ID)
	assert.Equal(t, models.RenderPending, op.Status)
	assert.EqualValues(t, 1000, op.StallTimeoutMS)
	require.Len(t, f.channel.sent, 1)

	assert.Equal(t, "test-instance", op.Owner)

	f.svc.Deliver(v1.ProgressOf(v1.ProgressEvent{OperationID: "op-1", Percent: 1, Stage: "frames"}))
	require.Eventually(t, func() bool { return f.journal.progressOf("op-1") == 1 },
		time.Second, 5*time.Millisecond)
	f.svc.Deliver(v1.ProgressOf(v1.ProgressEvent{OperationID: "op-1", Percent: 2, Stage: "frames"}))
	f.svc.Deliver(v1.ProgressOf(v1.ProgressEvent{OperationID: "op-1", Percent: 50, Stage: "frames"}))
	require.Eventually(t, func() bool { return f.journal.progressOf("op-1") == 50 },
		time.Second, 5*time.Millisecond)
	f.svc.Deliver(v1.ResultOf(v1.ResultEvent{OperationID: "op-1", Success: true, OutputPath: "/out/op-1"}))

	assert.Eventually(t, func() bool { return f.journal.status("op-1") == models.RenderSucceeded },
		time.Second, 5*time.Millisecond)

	f.journal.mu.Lock()
	assert.Equal(t, []float64{1, 50}, f.journal.progress, "progress is sampled")
	f.journal.mu.Unlock()

	got, err := f.svc.Get(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, "/out/op-1", got.OutputPath)
	assert.Len(t, got.Assets, 1)
	assert.Equal(t, "/out/op-1", f.pub.calls["op-1"])
}

func TestSubmitFailureOutcomes(t *testing.T) {
	t.Run("renderer failure", func(t *testing.T) {
		f := newFixture(t, time.Second, "op-f")
		_, err := f.svc.Submit(context.Background(), request(), 0)
		require.NoError(t, err)

		f.svc.Deliver(v1.ResultOf(v1.ResultEvent{OperationID: "op-f", Error: "font missing"}))

		require.Eventually(t, func() bool { return f.journal.status("op-f") == models.RenderFailed },
			time.Second, 5*time.Millisecond)
		op, _ := f.journal.Get(context.Background(), "op-f")
		assert.Equal(t, string(errors.CodeRenderFailed), op.ErrorCode)
		assert.Equal(t, "font missing", op.ErrorText)
	})

	t.Run("stall", func(t *testing.T) {
		f := newFixture(t, time.Second, "op-s")
		_, err := f.svc.Submit(context.Background(), request(), 30*time.Millisecond)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return f.journal.status("op-s") == models.RenderStalled },
			time.Second, 5*time.Millisecond)
		op, _ := f.journal.Get(context.Background(), "op-s")
		assert.Equal(t, string(errors.CodeRenderStalled), op.ErrorCode)
	})

	t.Run("dispatch", func(t *testing.T) {
		f := newFixture(t, time.Second, "op-d")
		f.channel.sendErr = stderrors.New("queue down")
		_, err := f.svc.Submit(context.Background(), request(), 0)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return f.journal.status("op-d") == models.RenderDispatchFailed },
			time.Second, 5*time.Millisecond)
	})

	t.Run("publish", func(t *testing.T) {
		f := newFixture(t, time.Second, "op-p")
		f.pub.err = errors.Unavailable("storage")
		_, err := f.svc.Submit(context.Background(), request(), 0)
		require.NoError(t, err)

		f.svc.Deliver(v1.ResultOf(v1.ResultEvent{OperationID: "op-p", Success: true, OutputPath: "x"}))

		require.Eventually(t, func() bool { return f.journal.status("op-p") == models.RenderFailed },
			time.Second, 5*time.Millisecond)
		op, _ := f.journal.Get(context.Background(), "op-p")
		assert.Equal(t, string(errors.CodeUnavailable), op.ErrorCode)
	})
}

func TestSubmitRejectsBeforeJournaling(t *testing.T) {
	f := newFixture(t, time.Second, "op-v")
	req := request()
	req.VideoWidth = 0

	_, err := f.svc.Submit(context.Background(), req, 0)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, f.channel.sent)
	_, err = f.journal.Get(context.Background(), "op-v")
	assert.True(t, errors.IsNotFound(err))
}

func TestSubmitDuplicateID(t *testing.T) {
	f := newFixture(t, time.Second)
	req := request()
	req.OperationID = "dup"

	_, err := f.svc.Submit(context.Background(), req, 0)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), req, 0)
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))
	assert.Len(t, f.channel.sent, 1)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, time.Second, "op-c")
	_, err := f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), "op-c"))
	assert.Equal(t, []string{"op-c"}, f.channel.cancels)
	op, _ := f.journal.Get(context.Background(), "op-c")
	assert.True(t, op.CancelRequested)
	assert.Equal(t, models.RenderPending, op.Status, "cancel does not resolve")

	assert.True(t, errors.IsNotFound(f.svc.Cancel(context.Background(), "unknown")))

	list, err := f.svc.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCloseJournalsPendingAsFailed(t *testing.T) {
	f := newFixture(t, time.Minute, "op-x")
	_, err := f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)

	f.coord.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))

	op, _ := f.journal.Get(context.Background(), "op-x")
	assert.Equal(t, models.RenderFailed, op.Status)
	assert.Equal(t, string(errors.CodeUnavailable), op.ErrorCode)
}

func TestSlowPublishStillJournalsOutcome(t *testing.T) {
	f := newFixtureWith(t, time.Second, Config{
		IDs:            render.NewFixedGenerator("op-slow"),
		PublishTimeout: 50 * time.Millisecond,
	}, newMemJournal())
	f.pub.block = true

	_, err := f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)
	f.svc.Deliver(v1.ResultOf(v1.ResultEvent{OperationID: "op-slow", Success: true, OutputPath: "/out/frames"}))

	require.Eventually(t, func() bool { return f.journal.status("op-slow") == models.RenderFailed },
		2*time.Second, 5*time.Millisecond)
	op, _ := f.journal.Get(context.Background(), "op-slow")
	assert.Equal(t, string(errors.CodeUnavailable), op.ErrorCode)
	assert.Equal(t, "/out/frames", op.OutputPath)

	f.journal.mu.Lock()
	assert.NoError(t, f.journal.finishErr, "finish gets its own deadline")
	f.journal.mu.Unlock()
}

func TestSlowProgressWriteDoesNotDelayOtherOperations(t *testing.T) {
	journal := newMemJournal()
	journal.progressGate = make(chan struct{})
	f := newFixtureWith(t, 300*time.Millisecond, Config{IDs: render.NewFixedGenerator("a", "b")}, journal)

	_, err := f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for _, pct := range []float64{10, 20, 30} {
			f.svc.Deliver(v1.ProgressOf(v1.ProgressEvent{OperationID: "a", Percent: pct}))
			f.svc.Deliver(v1.ProgressOf(v1.ProgressEvent{OperationID: "b", Percent: pct}))
		}
	}()
	select {
	case <-delivered:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("delivery waited on the journal")
	}

	time.Sleep(200 * time.Millisecond)
	f.svc.Deliver(v1.ProgressOf(v1.ProgressEvent{OperationID: "b", Percent: 40}))
	time.Sleep(150 * time.Millisecond)
	assert.True(t, f.coord.IsPending("b"), "heartbeats kept b alive while the journal was blocked")
	assert.False(t, f.coord.IsPending("a"))

	close(journal.progressGate)
	require.Eventually(t, func() bool { return journal.progressOf("b") == 40 },
		time.Second, 5*time.Millisecond)

	journal.mu.Lock()
	assert.LessOrEqual(t, len(journal.progress), 5, "queued progress is coalesced per operation")
	journal.mu.Unlock()
}

func TestSubmitWithoutTimeoutUsesCoordinatorWindow(t *testing.T) {
	f := newFixture(t, 40*time.Millisecond, "op-w")

	op, err := f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 40, op.StallTimeoutMS)

	require.Eventually(t, func() bool { return f.journal.status("op-w") == models.RenderStalled },
		time.Second, 5*time.Millisecond)
}

func TestCloseFlushesQueuedProgress(t *testing.T) {
	journal := newMemJournal()
	journal.progressGate = make(chan struct{})
	f := newFixtureWith(t, time.Minute, Config{IDs: render.NewFixedGenerator("op-q")}, journal)

	_, err := f.svc.Submit(context.Background(), request(), 0)
	require.NoError(t, err)
	f.svc.Deliver(v1.ProgressOf(v1.ProgressEvent{OperationID: "op-q", Percent: 5}))
	close(journal.progressGate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.progress.stop(ctx))
	assert.EqualValues(t, 5, journal.progressOf("op-q"))
}
