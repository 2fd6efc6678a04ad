package bulk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kaelbrook/episodeid/internal/acquire"
	"github.com/kaelbrook/episodeid/internal/config"
	"github.com/kaelbrook/episodeid/internal/identify"
	"github.com/kaelbrook/episodeid/internal/match"
	"github.com/kaelbrook/episodeid/pkg/errs"
	"github.com/kaelbrook/episodeid/pkg/log"
)

// identifier is the slice of *identify.Orchestrator the Driver depends
// on, narrowed so tests can substitute a fake without standing up the
// full acquire/match/embedding stack.
type identifier interface {
	Identify(ctx context.Context, req identify.Request) (identify.Outcome, error)
}

// Driver runs the identification pipeline over a file set under a
// bounded worker pool.
type Driver struct {
	Orchestrator identifier
	Config       *config.Store

	// ProgressInterval defaults to DefaultProgressInterval when zero.
	// ErrorCap bounds only the displayed Progress.Errors list (newest
	// entries win) and defaults to DefaultErrorCap when zero; it is
	// unrelated to Options.MaxErrors, the error budget that decides
	// whether a run drains early.
	ProgressInterval time.Duration
	ErrorCap         int
}

// Run discovers candidate files under roots and applies the Orchestrator
// to each one, honoring opts and emitting progress snapshots to
// onProgress at no more than one per ProgressInterval. onProgress may be
// nil.
func (d *Driver) Run(ctx context.Context, roots []string, opts Options, onProgress func(Progress)) (Result, error) {
	runID := uuid.NewString()
	listCap := d.ErrorCap
	if listCap <= 0 {
		listCap = DefaultErrorCap
	}
	interval := d.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	discoveryCtx, stopDiscovery := context.WithCancel(ctx)
	defer stopDiscovery()

	paths := discover(discoveryCtx, roots, opts)

	state := &runState{
		progress:   Progress{RunID: runID, StartedAt: time.Now()},
		errorCap:   listCap,
		onProgress: onProgress,
		interval:   interval,
		lastEmit:   time.Now(),
	}

	status := StatusCompleted

batches:
	for {
		if ctx.Err() != nil {
			status = StatusCancelled
			break batches
		}

		n := d.effectiveConcurrency()
		batch := make([]string, 0, n)
		for len(batch) < n {
			p, ok := <-paths
			if !ok {
				break
			}
			batch = append(batch, p)
			state.recordDiscovered(p)
		}
		if len(batch) == 0 {
			break batches
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range batch {
			p := p
			g.Go(func() error {
				outcome := d.processOne(gctx, p, opts)
				state.recordOutcome(outcome)
				return nil
			})
		}
		_ = g.Wait()

		if opts.MaxErrors > 0 && state.failedCount() > opts.MaxErrors {
			status = StatusCompletedWithErrors
			break batches
		}
		if ctx.Err() != nil {
			status = StatusCancelled
			break batches
		}
	}

	// Stop further discovery and drain whatever is already buffered in
	// the channel so every path that reached it is accounted for in
	// Discovered: the producer is told to stop, and anything already in
	// flight on the channel becomes a Skipped outcome rather than
	// silently vanishing.
	stopDiscovery()
	for p := range paths {
		state.recordDiscovered(p)
		state.recordOutcome(FileOutcome{Path: p, Kind: OutcomeSkipped, Reason: string(drainReason(status))})
	}

	final := state.snapshot()
	if onProgress != nil {
		onProgress(final)
	}

	return Result{
		RunID:    runID,
		Status:   status,
		Progress: final,
		Outcomes: state.outcomes(),
	}, nil
}

func drainReason(status Status) Status {
	if status == StatusCancelled {
		return StatusCancelled
	}
	return StatusCompletedWithErrors
}

// effectiveConcurrency reads the live configuration snapshot and clamps
// to N = min(max(MaxConcurrency, 1), 100). Reading it fresh at each
// batch boundary is what makes hot-reload take effect on the next batch
// without touching in-flight work.
func (d *Driver) effectiveConcurrency() int {
	n := 1
	if d.Config != nil {
		if snap := d.Config.Current(); snap != nil {
			n = snap.MaxConcurrency
		}
	}
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100
	}
	return n
}

func (d *Driver) processOne(ctx context.Context, path string, opts Options) FileOutcome {
	timeout := opts.PerFileTimeout
	if timeout <= 0 {
		timeout = acquire.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := d.Orchestrator.Identify(ctx, identify.Request{
		VideoPath:         path,
		PreferredLanguage: opts.PreferredLanguage,
		Series:            opts.Series,
		Season:            opts.Season,
		Rename:            opts.Rename,
	})
	if err != nil {
		kind := OutcomeFailed
		if errs.Is(err, errs.Cancelled) || ctx.Err() != nil {
			kind = OutcomeSkipped
		}
		return FileOutcome{Path: path, Kind: kind, Reason: err.Error()}
	}

	if out.Result.Status != match.StatusOK {
		return FileOutcome{
			Path:   path,
			Kind:   OutcomeSkipped,
			Reason: "no confident match (" + string(out.Result.Status) + ")",
		}
	}

	return FileOutcome{
		Path:         path,
		Kind:         OutcomeSuccess,
		Series:       out.Result.Series,
		Season:       out.Result.Season,
		Episode:      out.Result.Episode,
		Confidence:   out.Result.Confidence,
		ProposedName: out.ProposedName,
		Renamed:      out.Renamed,
	}
}

// runState is the driver's mutable bookkeeping, guarded by a mutex since
// multiple workers in a batch complete concurrently. Only the driver
// mutates it; readers see consistent snapshots.
type runState struct {
	mu         sync.Mutex
	progress   Progress
	outs       []FileOutcome
	errorCap   int
	onProgress func(Progress)
	interval   time.Duration
	lastEmit   time.Time
}

func (s *runState) recordDiscovered(path string) {
	s.mu.Lock()
	s.progress.Discovered++
	s.mu.Unlock()
}

func (s *runState) recordOutcome(o FileOutcome) {
	s.mu.Lock()
	s.outs = append(s.outs, o)
	s.progress.CurrentPath = o.Path
	switch o.Kind {
	case OutcomeSuccess:
		s.progress.Succeeded++
	case OutcomeFailed:
		s.progress.Failed++
		s.progress.Errors = append(s.progress.Errors, ErrorEntry{Path: o.Path, Message: o.Reason, At: time.Now()})
		if len(s.progress.Errors) > s.errorCap {
			s.progress.Errors = s.progress.Errors[len(s.progress.Errors)-s.errorCap:]
		}
	case OutcomeSkipped:
		s.progress.Skipped++
	}
	snap := s.progress.clone()
	shouldEmit := s.onProgress != nil && time.Since(s.lastEmit) >= s.interval
	if shouldEmit {
		s.lastEmit = time.Now()
	}
	s.mu.Unlock()

	if shouldEmit {
		s.onProgress(snap)
	}
	if o.Kind == OutcomeFailed {
		log.Warn("bulk: %s failed: %s", o.Path, o.Reason)
	}
}

func (s *runState) failedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.Failed
}

func (s *runState) snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.clone()
}

func (s *runState) outcomes() []FileOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FileOutcome(nil), s.outs...)
}
