package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sermonsync/internal/catalog"
	"sermonsync/internal/config"
	"sermonsync/internal/logging"
	"sermonsync/internal/match"
	"sermonsync/internal/reconcile"
	"sermonsync/internal/sources"
	"sermonsync/internal/sources/channel"
	"sermonsync/internal/sources/feed"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch both sources, match episodes, and reconcile the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}

			feedEpisodes := fetchFeed(cmd.Context(), cfg.Sources.FeedURL, time.Duration(cfg.Sources.RequestTimeout)*time.Second, logger)
			channelEpisodes := fetchChannel(cmd.Context(), cfg, logger)
			if len(feedEpisodes) == 0 && len(channelEpisodes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No episodes fetched from either source")
				return nil
			}

			matcher := match.New(match.Config{
				DateWindowDays:  cfg.Matching.DateWindowDays,
				AcceptThreshold: cfg.Matching.AcceptThreshold,
				ContentKeywords: cfg.Matching.ContentKeywords,
			})
			candidates := matcher.Match(feedEpisodes, channelEpisodes)

			return ctx.withStore(func(store *catalog.Store) error {
				summary, err := reconcile.New(store, matcher, logger).Run(cmd.Context(), candidates)
				if err != nil {
					return err
				}
				printSyncSummary(cmd, len(feedEpisodes), len(channelEpisodes), len(candidates), summary)
				return nil
			})
		},
	}
}

// fetchFeed pulls the podcast feed. A source failure is logged and treated as
// zero episodes so the other source still syncs.
func fetchFeed(ctx context.Context, feedURL string, timeout time.Duration, logger *slog.Logger) []sources.Episode {
	if feedURL == "" {
		return nil
	}
	adapter, err := feed.New(feedURL, timeout)
	if err != nil {
		logger.Warn("feed source unavailable", logging.Error(err))
		return nil
	}
	episodes, err := adapter.Fetch(ctx)
	if err != nil {
		logger.Warn("feed fetch failed", logging.Error(err))
		return nil
	}
	return episodes
}

func fetchChannel(ctx context.Context, cfg *config.Config, logger *slog.Logger) []sources.Episode {
	if cfg.Sources.ChannelAPIURL == "" || cfg.Sources.ChannelID == "" {
		return nil
	}
	adapter, err := channel.New(
		cfg.Sources.ChannelAPIKey,
		cfg.Sources.ChannelAPIURL,
		cfg.Sources.ChannelID,
		time.Duration(cfg.Sources.RequestTimeout)*time.Second,
	)
	if err != nil {
		logger.Warn("channel source unavailable", logging.Error(err))
		return nil
	}
	episodes, err := adapter.Fetch(ctx)
	if err != nil {
		logger.Warn("channel fetch failed", logging.Error(err))
		return nil
	}
	return episodes
}

func printSyncSummary(cmd *cobra.Command, feedCount, channelCount, candidateCount int, summary reconcile.Summary) {
	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Feed episodes", strconv.Itoa(feedCount)},
		{"Channel episodes", strconv.Itoa(channelCount)},
		{"Candidates", strconv.Itoa(candidateCount)},
		{"Created", strconv.Itoa(summary.Created)},
		{"Updated", strconv.Itoa(summary.Updated)},
		{"Unchanged", strconv.Itoa(summary.Unchanged)},
		{"Errors", strconv.Itoa(len(summary.Errors))},
	}
	fmt.Fprintln(out, renderTable([]string{"Sync", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(summary.Errors) > 0 {
		titles := make([]string, 0, len(summary.Errors))
		for title := range summary.Errors {
			titles = append(titles, title)
		}
		sort.Strings(titles)
		for _, title := range titles {
			fmt.Fprintf(out, "error: %s: %s\n", title, summary.Errors[title])
		}
	}
}
