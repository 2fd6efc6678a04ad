package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidExpression(t *testing.T) {
	_, err := New("not a cron expression", func(context.Context) {})
	assert.Error(t, err)
}

func TestScheduler_RunFiresOnEveryTickUntilCancelled(t *testing.T) {
	var calls int32

	s, err := New("@every 20ms", func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()

	s.Run(ctx)

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 2)
}

func TestScheduler_NextRunReportsExpression(t *testing.T) {
	s, err := New("@every 1h", func(context.Context) {})
	require.NoError(t, err)

	info, err := s.NextRun()
	require.NoError(t, err)
	assert.Equal(t, "@every 1h", info.Expression)
	assert.False(t, info.Next.IsZero())
}

func TestScheduler_PanicInJobIsRecovered(t *testing.T) {
	var calls int32
	s, err := New("@every 15ms", func(context.Context) {
		atomic.AddInt32(&calls, 1)
		panic("boom")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NotPanics(t, func() { s.Run(ctx) })
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 1)
}
