package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/logger"
	"subforge/internal/render"
	"subforge/internal/render/redischannel"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var (
		file    string
		timeout time.Duration
		jsonOut bool
		bucket  float64
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Submit a render request over Redis and wait for its result",
		Long: "Submit a render request over Redis and follow its progress until the renderer " +
			"reports a result or stops reporting for longer than --timeout. " +
			"Interrupting the command asks the renderer to cancel.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req v1.RenderRequest
			if err := readInput(cmd.InOrStdin(), file, &req); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.StallTimeout()
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withRedis(sigCtx, cmd, func(ch *redischannel.Channel) error {
				return runRender(sigCtx, cmd, ctx.logger(cmd), ch, req, timeout, bucket, jsonOut)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Render request file (YAML or JSON, - for stdin)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stall timeout; defaults to the configured render.stall_timeout_ms")
	cmd.Flags().Float64Var(&bucket, "progress-step", 5, "Print progress every N percent")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func runRender(ctx context.Context, cmd *cobra.Command, log *logger.Logger, ch *redischannel.Channel,
	req v1.RenderRequest, timeout time.Duration, bucket float64, jsonOut bool,
) error {
	coord := render.NewCoordinator(ch, render.Config{StallTimeout: timeout, Log: log})
	defer coord.Close()

	// The listener outlives an interrupt so the cancel outcome still arrives.
	listenCtx, stopListening := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	listenDone := make(chan struct{})
	var listenErr error
	go func() {
		defer close(listenDone)
		listenErr = ch.Listen(listenCtx, coord.Deliver, ready)
	}()
	defer func() {
		stopListening()
		<-listenDone
	}()

	select {
	case <-ready:
	case <-listenDone:
		return listenErr
	case <-ctx.Done():
		return ctx.Err()
	}

	out := cmd.OutOrStdout()
	progressOut := out
	if jsonOut {
		progressOut = cmd.ErrOrStderr()
	}
	sampler := logger.NewProgressSampler(bucket)
	h := coord.Submit(ctx, req, render.Options{
		OnProgress: func(ev v1.ProgressEvent) {
			// Progress arrives from the single listener goroutine.
			if sampler.ShouldLog(ev.Percent, ev.Stage) {
				fmt.Fprintf(progressOut, "%s  %5.1f%%  %s\n", ev.OperationID, ev.Percent, ev.Stage)
			}
		},
	})
	fmt.Fprintf(cmd.ErrOrStderr(), "submitted %s (stall timeout %s)\n", h.OperationID(), timeout)

	res, err := waitOrCancel(ctx, cmd, coord, h)
	if jsonOut {
		if werr := writeJSON(cmd, res); werr != nil {
			return werr
		}
	} else if err == nil {
		fmt.Fprintf(out, "%s  done  %s\n", res.OperationID, res.OutputPath)
	}
	return err
}

// waitOrCancel waits for the handle; an interrupt sends a cancel and keeps
// waiting for the renderer to confirm through a result or a stall.
func waitOrCancel(ctx context.Context, cmd *cobra.Command, coord *render.Coordinator, h *render.Handle) (render.Result, error) {
	select {
	case <-h.Done():
	case <-ctx.Done():
		fmt.Fprintf(cmd.ErrOrStderr(), "interrupted, cancelling %s\n", h.OperationID())
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := coord.Cancel(cctx, h.OperationID()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "cancel failed: %v\n", err)
		}
		cancel()
	}
	return h.Wait(context.Background())
}
