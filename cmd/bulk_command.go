package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaelbrook/episodeid/internal/bulk"
	"github.com/kaelbrook/episodeid/internal/schedule"
)

func newBulkCommand(procOpts processOptionsFunc) *cobra.Command {
	var (
		recursive         bool
		rename            bool
		maxDepth          int
		extensions        []string
		exclude           []string
		maxErrors         int
		language          string
		series            string
		season            string
		perFileTimeout    time.Duration
		progressInterval  time.Duration
		watch             string
	)

	cmd := &cobra.Command{
		Use:   "bulk-identify DIR",
		Short: "Identify every video under DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]

			opts := bulk.Options{
				Recursive:         recursive,
				MaxDepth:          maxDepth,
				Extensions:        extensions,
				Exclusions:        exclude,
				MaxErrors:         maxErrors,
				Rename:            rename,
				PreferredLanguage: language,
				Series:            series,
				Season:            season,
				PerFileTimeout:    perFileTimeout,
			}

			procOptsVal := procOpts()
			env, err := buildEnvironment(procOptsVal)
			if err != nil {
				return err
			}
			defer env.Close()

			driver := &bulk.Driver{
				Orchestrator:     env.orchestrator(),
				Config:           env.configStore,
				ProgressInterval: progressInterval,
			}

			onProgress := func(p bulk.Progress) {
				os.Stderr.WriteString(p.Summary() + "\n")
			}

			runOnce := func(ctx context.Context) {
				result, err := driver.Run(ctx, []string{root}, opts, onProgress)
				if err != nil {
					_ = writeEnvelope(envelopeFromError(err))
					return
				}
				_ = writeBulkResult(result)
			}

			if watch == "" {
				result, err := driver.Run(cmd.Context(), []string{root}, opts, onProgress)
				if err != nil {
					return err
				}
				return writeBulkResult(result)
			}

			sched, err := schedule.New(watch, runOnce)
			if err != nil {
				return usageError(err.Error())
			}
			sched.Run(cmd.Context())
			return nil
		},
	}

	cmd.Flags().BoolVar(&recursive, "recursive", false, "Recurse into subdirectories")
	cmd.Flags().BoolVar(&rename, "rename", false, "Rename files in place on a confident match")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum recursion depth (0 = unlimited)")
	cmd.Flags().StringSliceVar(&extensions, "extensions", nil, "Extensions to include (default: common video containers)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Path substrings to exclude")
	cmd.Flags().IntVar(&maxErrors, "max-errors", 0, "Stop after this many failures (0 = unlimited)")
	cmd.Flags().StringVar(&language, "language", "", "Preferred subtitle language")
	cmd.Flags().StringVar(&series, "series", "", "Restrict matching to this series")
	cmd.Flags().StringVar(&season, "season", "", "Restrict matching to this season")
	cmd.Flags().DurationVar(&perFileTimeout, "per-file-timeout", 0, "Per-file timeout (0 uses the acquirer default)")
	cmd.Flags().DurationVar(&progressInterval, "progress-interval", 0, "Minimum gap between progress lines on stderr")
	cmd.Flags().StringVar(&watch, "watch", "", "Cron expression; re-runs the scan on every tick instead of once")

	return cmd
}

func writeBulkResult(result bulk.Result) error {
	type outcomeJSON struct {
		Path         string  `json:"path"`
		Kind         string  `json:"kind"`
		Reason       string  `json:"reason,omitempty"`
		Series       string  `json:"series,omitempty"`
		Season       string  `json:"season,omitempty"`
		Episode      string  `json:"episode,omitempty"`
		Confidence   float64 `json:"confidence,omitempty"`
		ProposedName string  `json:"proposed_filename,omitempty"`
		Renamed      bool    `json:"renamed,omitempty"`
	}

	outcomes := make([]outcomeJSON, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		outcomes = append(outcomes, outcomeJSON{
			Path: o.Path, Kind: string(o.Kind), Reason: o.Reason,
			Series: o.Series, Season: o.Season, Episode: o.Episode,
			Confidence: o.Confidence, ProposedName: o.ProposedName, Renamed: o.Renamed,
		})
	}

	payload := struct {
		Status     string        `json:"status"`
		RunID      string        `json:"run_id"`
		BulkStatus string        `json:"bulk_status"`
		Discovered int           `json:"discovered"`
		Succeeded  int           `json:"succeeded"`
		Failed     int           `json:"failed"`
		Skipped    int           `json:"skipped"`
		Outcomes   []outcomeJSON `json:"outcomes"`
	}{
		Status:     bulkOverallStatus(result.Status),
		RunID:      result.RunID,
		BulkStatus: string(result.Status),
		Discovered: result.Progress.Discovered,
		Succeeded:  result.Progress.Succeeded,
		Failed:     result.Progress.Failed,
		Skipped:    result.Progress.Skipped,
		Outcomes:   outcomes,
	}

	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(payload)
}

func bulkOverallStatus(status bulk.Status) string {
	if status == bulk.StatusCompleted {
		return "ok"
	}
	return "error"
}
