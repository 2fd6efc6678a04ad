// Package bulk applies the identification pipeline to a file set under
// a bounded worker pool, with streaming discovery, per-file isolation,
// progress reporting, cancellation, and an optional error budget. The
// effective concurrency is re-read from the live configuration snapshot
// at each batch boundary, so a hot-reload changes the next batch without
// touching in-flight work.
package bulk

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// OutcomeKind is the per-file disposition. Every discovered path
// produces exactly one outcome record.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// FileOutcome is one discovered file's result.
type FileOutcome struct {
	Path         string
	Kind         OutcomeKind
	Reason       string // skip reason, or the error's message
	Series       string
	Season       string
	Episode      string
	Confidence   float64
	ProposedName string
	Renamed      bool
}

// Options controls discovery and execution for one Run call.
type Options struct {
	Recursive  bool
	MaxDepth   int      // 0 = unlimited
	Extensions []string // lowercase, dot-prefixed; empty uses DefaultExtensions
	Exclusions []string // substrings matched against the full path; exclusion wins over inclusion
	MaxErrors  int      // 0 = unlimited; drain once failed exceeds this

	Rename            bool
	PreferredLanguage string
	Series            string // optional identify filter
	Season            string // optional identify filter

	PerFileTimeout time.Duration // 0 uses acquire.DefaultTimeout
}

// Status is the terminal state of a Run call.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusCancelled           Status = "cancelled"
)

// ErrorEntry is one entry in the bounded error list; newest entries win
// above the cap.
type ErrorEntry struct {
	Path    string
	Message string
	At      time.Time
}

// Progress carries a run's monotonically growing counters, the currently
// processing path, and a bounded error list. The driver is the only
// mutator; Run's onProgress callback and the final Result both receive
// point-in-time-consistent copies.
type Progress struct {
	RunID       string
	Discovered  int
	Succeeded   int
	Failed      int
	Skipped     int
	CurrentPath string
	StartedAt   time.Time
	Errors      []ErrorEntry
}

// clone returns a deep copy safe to hand to a caller outside the driver's lock.
func (p Progress) clone() Progress {
	out := p
	out.Errors = append([]ErrorEntry(nil), p.Errors...)
	return out
}

// Summary renders a one-line, human-readable rendition of p for stderr
// progress output: counters, elapsed time, and a files/sec rate.
func (p Progress) Summary() string {
	elapsed := time.Since(p.StartedAt)
	done := p.Succeeded + p.Failed + p.Skipped
	rate := 0.0
	if elapsed > 0 {
		rate = float64(done) / elapsed.Seconds()
	}
	return fmt.Sprintf(
		"%s processed (%s ok, %s failed, %s skipped) of %s discovered, started %s, %.1f files/sec",
		humanize.Comma(int64(done)), humanize.Comma(int64(p.Succeeded)),
		humanize.Comma(int64(p.Failed)), humanize.Comma(int64(p.Skipped)),
		humanize.Comma(int64(p.Discovered)), humanize.Time(p.StartedAt),
		rate,
	)
}

// Result is what Run returns once the batch loop has ended.
type Result struct {
	RunID    string
	Status   Status
	Progress Progress
	Outcomes []FileOutcome
}

// DefaultExtensions is the media-container extension list a bulk run
// discovers when Options.Extensions is empty.
var DefaultExtensions = []string{
	".mkv", ".mp4", ".m4v", ".mov", ".avi", ".wmv", ".flv", ".webm",
	".ogv", ".3gp", ".3g2", ".f4v", ".asf", ".rm", ".rmvb", ".ts",
	".m2ts", ".mts", ".vob", ".mpg", ".mpeg", ".m2v", ".divx", ".xvid",
}

// DefaultErrorCap bounds the Progress.Errors list (newest entries win).
const DefaultErrorCap = 50

// DefaultProgressInterval rate-limits progress events to at most one per
// 100ms.
const DefaultProgressInterval = 100 * time.Millisecond

// DefaultQueueDepth bounds the discovery channel so discovery never
// materializes the full file list in memory.
const DefaultQueueDepth = 256
