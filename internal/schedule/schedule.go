// Package schedule backs the optional periodic bulk-rescan surface: a
// CLI operator runs bulk-identify with --watch CRON instead of invoking
// it once.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kaelbrook/episodeid/pkg/icron"
	"github.com/kaelbrook/episodeid/pkg/log"
)

// parser accepts the same field set as pkg/icron.GetTriggerInfo so a
// --watch expression validates and schedules identically.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs a job on every tick of a cron expression. A Scheduler
// is meant for a single Run call.
type Scheduler struct {
	expr   string
	cron   *cron.Cron
	runCtx context.Context
}

// New validates expr and registers fn to run on each tick. fn receives
// the context passed to Run, so a long-running rescan can observe
// cancellation mid-run.
func New(expr string, fn func(context.Context)) (*Scheduler, error) {
	if _, err := parser.Parse(expr); err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}

	s := &Scheduler{expr: expr, cron: cron.New(cron.WithParser(parser)), runCtx: context.Background()}

	if _, err := s.cron.AddFunc(expr, func() {
		s.runOnce(fn)
	}); err != nil {
		return nil, fmt.Errorf("schedule: register %q: %w", expr, err)
	}

	return s, nil
}

func (s *Scheduler) runOnce(fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled run panicked: %v", r)
		}
	}()
	fn(s.runCtx)
}

// Run starts the cron scheduler and blocks until ctx is cancelled, then
// stops it, waiting for any in-flight tick to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCtx = ctx
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// NextRun reports diagnostic trigger info for the configured expression
// relative to now, for CLI status output.
func (s *Scheduler) NextRun() (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(s.expr, time.Now())
}
