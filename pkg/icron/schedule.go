// Package icron reports diagnostic trigger information for a cron
// expression: when it last fired and when it fires next. The bulk
// rescan scheduler uses it for CLI status output.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts six-field expressions (with seconds) plus descriptors
// like @hourly and @every, matching what the rescan scheduler accepts.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TriggerInfo describes a cron expression's firing times relative to a
// reference instant. Last is the zero time when no prior fire could be
// found within the lookback window.
type TriggerInfo struct {
	Expression    string
	Next          time.Time
	Last          time.Time
	TimeUntilNext time.Duration
	TimeSinceLast time.Duration
}

// lookback bounds the backwards search for the previous fire time; an
// expression that fires less than once a year reports a zero Last.
const lookback = 366 * 24 * time.Hour

// GetTriggerInfo parses cronExpr and computes its previous and next fire
// times around refTime.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       previousFire(schedule, refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	return info, nil
}

// previousFire walks backwards from refTime in hour steps and returns
// the latest fire time at or before it. The cron schedule interface
// only exposes Next, so the previous fire is found by probing from
// successively earlier instants until one's Next lands on or before
// refTime.
func previousFire(schedule cron.Schedule, refTime time.Time) time.Time {
	probe := refTime.Add(-time.Minute)
	for probe.After(refTime.Add(-lookback)) {
		if next := schedule.Next(probe); !next.After(refTime) {
			for n := schedule.Next(next); !n.After(refTime); n = schedule.Next(n) {
				next = n
			}
			return next
		}
		probe = probe.Add(-time.Hour)
	}
	return time.Time{}
}
