package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaelbrook/episodeid/internal/migrate"
)

func newMigrateCommand(procOpts processOptionsFunc) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "migrate-embeddings",
		Short: "Backfill embeddings for catalogue entries stored before the embedding strategy was enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := procOpts()

			cat, err := openCatalogueOnly(opts)
			if err != nil {
				return err
			}
			defer cat.Close()

			enc, err := requireEncoder(opts)
			if err != nil {
				return err
			}
			defer enc.Close()

			summary, err := migrate.Run(cmd.Context(), cat, enc, migrate.Options{BatchSize: batchSize})
			if err != nil {
				_ = writeEnvelope(envelopeFromError(err))
				return err
			}

			return writeMigrateSummary(summary)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", migrate.DefaultBatchSize, "Rows encoded per batch")

	return cmd
}

// writeMigrateSummary emits the migrator's result as the same
// single-JSON-object-on-stdout envelope every other verb uses.
func writeMigrateSummary(summary migrate.Summary) error {
	type failureJSON struct {
		ID     int64  `json:"id"`
		Reason string `json:"reason"`
	}

	failures := make([]failureJSON, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failures = append(failures, failureJSON{ID: f.ID, Reason: f.Reason})
	}

	payload := struct {
		Status       string        `json:"status"`
		Total        int           `json:"total"`
		Processed    int           `json:"processed"`
		Failed       int           `json:"failed"`
		ElapsedMs    int64         `json:"elapsed_ms"`
		Failures     []failureJSON `json:"failures,omitempty"`
	}{
		Status:    "ok",
		Total:     summary.Total,
		Processed: summary.Processed,
		Failed:    summary.Failed,
		ElapsedMs: summary.Elapsed.Milliseconds(),
		Failures:  failures,
	}

	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(payload)
}
