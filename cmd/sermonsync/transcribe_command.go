package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sermonsync/internal/catalog"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <entryID>",
		Short: "Generate a transcript for one catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid entry id %q", args[0])
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}

			return ctx.withStore(func(store *catalog.Store) error {
				orch, err := buildOrchestrator(cfg, store, logger)
				if err != nil {
					return err
				}
				if err := orch.Run(cmd.Context(), id); err != nil {
					return err
				}

				entry, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("entry %d not found", id)
				}
				out := cmd.OutOrStdout()
				switch entry.Status {
				case catalog.StatusCompleted:
					fmt.Fprintf(out, "Entry %d transcribed (%d characters, source %s)\n",
						entry.ID, len(entry.Transcript), entry.TranscriptSource)
				case catalog.StatusGenerating:
					fmt.Fprintf(out, "Entry %d handed off to worker; check 'sermonsync show %d' for progress\n",
						entry.ID, entry.ID)
				default:
					fmt.Fprintf(out, "Entry %d finished in state %s\n", entry.ID, entry.Status)
				}
				return nil
			})
		},
	}
}
