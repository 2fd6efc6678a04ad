// Package migrate is the one-shot batch job that backfills embeddings
// for catalogue entries that have none (such as entries stored before
// the embedding strategy was enabled), then rebuilds the ANN index.
// Entries that already carry an embedding are not re-embedded, whichever
// model produced it.
package migrate

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kaelbrook/episodeid/internal/catalogue"
	"github.com/kaelbrook/episodeid/pkg/errs"
	"github.com/kaelbrook/episodeid/pkg/log"
)

// encoder is the slice of *embedding.Encoder the migrator depends on,
// narrowed so tests can substitute a fake without loading a real ONNX
// model.
type encoder interface {
	EncodeBatch(texts []string) ([][]float32, error)
}

// DefaultBatchSize is used when Options.BatchSize is zero or negative.
const DefaultBatchSize = 32

// Options controls one Run call.
type Options struct {
	BatchSize int
}

// RowFailure records one row the migrator could not embed; the row is
// left with a NULL embedding and is picked up again on the next run.
type RowFailure struct {
	ID     int64
	Reason string
}

// Summary is the migrator's result.
type Summary struct {
	Total     int
	Processed int
	Failed    int
	Elapsed   time.Duration
	Failures  []RowFailure
}

// String renders a human-readable one-line summary for stderr.
func (s Summary) String() string {
	return humanize.Comma(int64(s.Processed)) + " of " + humanize.Comma(int64(s.Total)) +
		" rows embedded (" + humanize.Comma(int64(s.Failed)) + " failed) in " + s.Elapsed.Round(time.Millisecond).String()
}

// Run iterates every labelled entry lacking an embedding, encodes its
// Clean text in batches of opts.BatchSize, writes the vectors back, and
// rebuilds the ANN index once at the end. It is naturally resumable: a
// row that already carries an embedding is never selected again, so
// re-running after a partial failure or cancellation only touches what
// is still missing.
func Run(ctx context.Context, store *catalogue.Store, enc encoder, opts Options) (Summary, error) {
	if enc == nil {
		return Summary{}, errs.New(errs.InvalidInput, "an embedding encoder is required to migrate embeddings")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start := time.Now()
	summary := Summary{}

	// afterID pages past rows already visited this run, including rows
	// whose encode or write-back failed; they stay NULL and are picked up
	// by the next Run instead of being retried in a tight loop here.
	var afterID int64

	for {
		if err := ctx.Err(); err != nil {
			break
		}

		rows, err := store.EntriesMissingEmbedding(ctx, afterID, batchSize)
		if err != nil {
			return summary, err
		}
		if len(rows) == 0 {
			break
		}
		afterID = rows[len(rows)-1].ID
		summary.Total += len(rows)

		texts := make([]string, len(rows))
		for i, r := range rows {
			texts[i] = r.CleanText
		}

		vecs, err := enc.EncodeBatch(texts)
		if err != nil {
			for _, r := range rows {
				summary.Failed++
				summary.Failures = append(summary.Failures, RowFailure{ID: r.ID, Reason: err.Error()})
			}
			log.Warn("migrate: batch of %d rows failed to encode: %v", len(rows), err)
			continue
		}

		for i, r := range rows {
			if err := store.SetEmbedding(ctx, r.ID, vecs[i]); err != nil {
				summary.Failed++
				summary.Failures = append(summary.Failures, RowFailure{ID: r.ID, Reason: err.Error()})
				continue
			}
			summary.Processed++
		}
	}

	if summary.Processed > 0 {
		if err := store.RebuildIndex(ctx); err != nil {
			return summary, err
		}
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}
