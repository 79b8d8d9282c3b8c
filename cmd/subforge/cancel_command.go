package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/errors"
	"subforge/internal/render/redischannel"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <operation-id>",
		Short: "Ask the renderer to stop an operation",
		Long: "Publish a best-effort cancel request. Whoever submitted the operation " +
			"still sees it end through a result or a stall.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.ValidationField("operation_id", "operation id is required")
			}
			return ctx.withRedis(cmd.Context(), cmd, func(ch *redischannel.Channel) error {
				if err := ch.Cancel(cmd.Context(), v1.CancelMessage{OperationID: id}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for %s\n", id)
				return nil
			})
		},
	}
}
