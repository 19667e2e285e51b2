package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sermonsync/internal/catalog"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var fullTranscript bool

	cmd := &cobra.Command{
		Use:   "show <entryID>",
		Short: "Show one catalog entry in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid entry id %q", args[0])
			}

			return ctx.withStore(func(store *catalog.Store) error {
				entry, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("entry %d not found", id)
				}
				printEntry(cmd, entry, fullTranscript)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fullTranscript, "full", false, "Print the complete transcript")
	return cmd
}

func printEntry(cmd *cobra.Command, entry *catalog.Entry, fullTranscript bool) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "ID:          %d\n", entry.ID)
	fmt.Fprintf(out, "Title:       %s\n", entry.Title)
	fmt.Fprintf(out, "Date:        %s\n", formatDate(entry.Date))
	fmt.Fprintf(out, "Status:      %s\n", entry.Status)
	if entry.FeedURL != "" {
		fmt.Fprintf(out, "Feed URL:    %s\n", entry.FeedURL)
	}
	if entry.ChannelURL != "" {
		fmt.Fprintf(out, "Channel URL: %s\n", entry.ChannelURL)
	}
	if entry.ChannelVideoID != "" {
		fmt.Fprintf(out, "Video ID:    %s\n", entry.ChannelVideoID)
	}
	if entry.MediaURL != "" {
		fmt.Fprintf(out, "Media URL:   %s\n", entry.MediaURL)
	}
	if entry.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:       %s\n", entry.ErrorMessage)
	}
	fmt.Fprintf(out, "Updated:     %s\n", entry.UpdatedAt.Format(time.RFC3339))

	if p := entry.Progress; p != nil {
		fmt.Fprintf(out, "Progress:    %s", p.Step)
		if p.Total > 0 {
			fmt.Fprintf(out, " (%d/%d chunks done, %d failed)", len(p.Completed), p.Total, len(p.Failed))
		}
		fmt.Fprintln(out)
		if p.Message != "" {
			fmt.Fprintf(out, "Message:     %s\n", p.Message)
		}
		for _, chunkErr := range p.Failed {
			fmt.Fprintf(out, "  chunk %d failed: %s\n", chunkErr.Index, chunkErr.Error)
		}
	}

	if entry.HasTranscript() {
		fmt.Fprintf(out, "Transcript:  %d characters (source %s)\n", len(entry.Transcript), entry.TranscriptSource)
		text := strings.TrimSpace(entry.Transcript)
		if !fullTranscript {
			text = truncate(text, 400)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, text)
	}
}
