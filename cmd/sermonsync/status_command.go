package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sermonsync/internal/catalog"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var filterStatuses []string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show catalog health and entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []catalog.Status
			for _, raw := range filterStatuses {
				status, ok := catalog.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(store *catalog.Store) error {
				out := cmd.OutOrStdout()

				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Total: %d  Pending: %d  Generating: %d  Completed: %d  Failed: %d\n",
					health.Total, health.Pending, health.Generating, health.Completed, health.Failed)

				entries, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "Catalog is empty")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(entry.ID, 10),
						entry.Title,
						formatDate(entry.Date),
						string(entry.Status),
						formatProgress(entry),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Date", "Status", "Progress"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&filterStatuses, "status", "s", nil, "Filter by entry status (repeatable)")
	return cmd
}
