package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/errors"
	"subforge/internal/pkg/logger"
	"subforge/internal/render/redischannel"
)

var emulatedStages = []string{"layout", "frames", "encode"}

// cancelTTL is how long a cancel is remembered for a request this emulator
// has not served yet. Cancels for other renderers' requests expire with it.
const cancelTTL = 10 * time.Minute

type emulator struct {
	ch       *redischannel.Channel
	log      *logger.Logger
	outDir   string
	steps    int
	interval time.Duration
	fail     bool
	stall    bool

	now       func() time.Time
	mu        sync.Mutex
	cancelled map[string]time.Time
}

func newEmulateCommand(ctx *commandContext) *cobra.Command {
	var (
		count    int
		steps    int
		interval time.Duration
		outDir   string
		fail     bool
		stall    bool
	)

	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Serve the render queue with a fake renderer",
		Long: "Pop render requests from Redis and answer them like a renderer would: " +
			"progress events through each stage, then a result. The output is the " +
			"request's captions written as an SRT file. Useful for exercising the API " +
			"and the render command without a real renderer.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return errors.ValidationField("steps", "--steps must be positive")
			}
			if outDir == "" {
				outDir = filepath.Join(os.TempDir(), "subforge-emulator")
			}
			abs, err := filepath.Abs(outDir)
			if err != nil {
				return errors.Wrap(err, "cli.emulate", "resolve output directory")
			}

			return ctx.withRedis(cmd.Context(), cmd, func(ch *redischannel.Channel) error {
				em := &emulator{
					ch:        ch,
					log:       ctx.logger(cmd).WithComponent("emulator"),
					outDir:    abs,
					steps:     steps,
					interval:  interval,
					fail:      fail,
					stall:     stall,
					now:       time.Now,
					cancelled: make(map[string]time.Time),
				}
				return em.serve(cmd.Context(), cmd, count)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many requests (0 serves until interrupted)")
	cmd.Flags().IntVar(&steps, "steps", 4, "Progress events per stage")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between progress events")
	cmd.Flags().StringVar(&outDir, "out", "", "Directory for emulated outputs")
	cmd.Flags().BoolVar(&fail, "fail", false, "Report every render as failed")
	cmd.Flags().BoolVar(&stall, "stall", false, "Go silent after the first progress event")
	return cmd
}

func (e *emulator) serve(ctx context.Context, cmd *cobra.Command, count int) error {
	cancelCtx, stopCancels := context.WithCancel(ctx)
	defer stopCancels()
	ready := make(chan struct{})
	go func() {
		if err := e.ch.ListenCancels(cancelCtx, e.markCancelled, ready); err != nil {
			e.log.Warn("cancel listener stopped", "error", err.Error())
		}
	}()
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "emulator waiting for render requests")
	for served := 0; count <= 0 || served < count; served++ {
		req, err := e.ch.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.IsValidation(err) {
				e.log.Warn("skipping undecodable render request", "error", err.Error())
				continue
			}
			return err
		}
		if err := e.render(ctx, req); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "served %s\n", req.OperationID)
	}
	return nil
}

func (e *emulator) markCancelled(m v1.CancelMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for id, at := range e.cancelled {
		if now.Sub(at) > cancelTTL {
			delete(e.cancelled, id)
		}
	}
	e.cancelled[m.OperationID] = now
}

func (e *emulator) isCancelled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.cancelled[id]
	return ok && e.now().Sub(at) <= cancelTTL
}

func (e *emulator) render(ctx context.Context, req v1.RenderRequest) error {
	id := req.OperationID
	log := e.log.WithOperationID(id)
	log.Info("emulating render", "cues", len(req.Cues))

	total := len(emulatedStages) * e.steps
	done := 0
	for _, stage := range emulatedStages {
		for range e.steps {
			if e.isCancelled(id) {
				return e.finish(ctx, v1.ResultEvent{OperationID: id, Error: "cancelled"})
			}
			done++
			pct := float64(done) * 100 / float64(total)
			if err := e.ch.PublishEvent(ctx, v1.ProgressOf(v1.ProgressEvent{OperationID: id, Percent: pct, Stage: stage})); err != nil {
				return err
			}
			if e.stall {
				log.Info("going silent")
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.interval):
			}
		}
	}

	if e.fail {
		return e.finish(ctx, v1.ResultEvent{OperationID: id, Error: "emulated renderer failure"})
	}
	out, err := e.writeOutput(req)
	if err != nil {
		return e.finish(ctx, v1.ResultEvent{OperationID: id, Error: err.Error()})
	}
	return e.finish(ctx, v1.ResultEvent{OperationID: id, Success: true, OutputPath: out})
}

func (e *emulator) finish(ctx context.Context, res v1.ResultEvent) error {
	e.mu.Lock()
	delete(e.cancelled, res.OperationID)
	e.mu.Unlock()
	return e.ch.PublishEvent(ctx, v1.ResultOf(res))
}

// writeOutput stores the captions as <out>/<id>/captions.srt and returns
// the directory.
func (e *emulator) writeOutput(req v1.RenderRequest) (string, error) {
	dir := filepath.Join(e.outDir, filepath.Base(req.OperationID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	body := req.SRTContent
	if strings.TrimSpace(body) == "" {
		body = cuesToSRT(req.Cues)
	}
	if err := os.WriteFile(filepath.Join(dir, "captions.srt"), []byte(body), 0o644); err != nil {
		return "", err
	}
	return dir, nil
}

func cuesToSRT(cues []v1.Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(c.Start), srtTime(c.End), c.Text)
	}
	return b.String()
}

func srtTime(sec float64) string {
	ms := int64(sec*1000 + 0.5)
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
