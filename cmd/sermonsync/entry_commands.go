package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sermonsync/internal/catalog"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [entryID...]",
		Short: "Reset failed entries to pending",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid entry id %q", arg)
				}
				ids = append(ids, id)
			}

			return ctx.withStore(func(store *catalog.Store) error {
				updated, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed entries for retry\n", updated)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <entryID>",
		Short: "Request cancellation of a running transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid entry id %q", args[0])
			}

			return ctx.withStore(func(store *catalog.Store) error {
				out := cmd.OutOrStdout()
				cancelled, err := store.RequestCancel(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !cancelled {
					fmt.Fprintf(out, "Entry %d is not generating; nothing to cancel\n", id)
					return nil
				}
				fmt.Fprintf(out, "Cancellation requested for entry %d; the pipeline stops after the current chunk\n", id)
				return nil
			})
		},
	}
}
