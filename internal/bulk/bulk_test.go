package bulk

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelbrook/episodeid/internal/config"
	"github.com/kaelbrook/episodeid/internal/identify"
	"github.com/kaelbrook/episodeid/internal/match"
	"github.com/kaelbrook/episodeid/pkg/errs"
)

func writeConfig(t *testing.T, concurrency int) *config.Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "episodeidentifier.config.json")
	raw := `{
		"schemaVersion": "1.0.0",
		"strategy": "hash",
		"maxConcurrency": ` + itoa(concurrency) + `,
		"thresholds": {
			"text": {"matchConfidence": 0.6, "renameConfidence": 0.85},
			"bitmapRaster": {"matchConfidence": 0.55, "renameConfidence": 0.8},
			"dvdRaster": {"matchConfidence": 0.5, "renameConfidence": 0.75}
		},
		"filenamePatterns": [{"pattern": "(?P<SeriesName>.+) S(?P<Season>\\d+)E(?P<Episode>\\d+)"}],
		"renameTemplate": "{SeriesName} {Season} {Episode}"
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))
	store, err := config.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestDiscover_FiltersExtensionsAndRespectsRecursion(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mkv"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "nested", "b.mp4"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := drain(t, discover(ctx, []string{root}, Options{Recursive: false}))
	assert.ElementsMatch(t, []string{filepath.Join(root, "a.mkv")}, out)

	out = drain(t, discover(ctx, []string{root}, Options{Recursive: true}))
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.mkv"),
		filepath.Join(root, "nested", "b.mp4"),
	}, out)
}

func TestDiscover_HonorsMaxDepthAndExclusions(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "s1", "e1.mkv"))
	touch(t, filepath.Join(root, "s1", "extras", "deleted-scene.mkv"))
	touch(t, filepath.Join(root, "sample", "skip-me.mkv"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := drain(t, discover(ctx, []string{root}, Options{
		Recursive:  true,
		MaxDepth:   2,
		Exclusions: []string{"sample"},
	}))

	assert.ElementsMatch(t, []string{filepath.Join(root, "s1", "e1.mkv")}, out)
}

func TestDiscover_OrdersDeterministically(t *testing.T) {
	root := t.TempDir()
	names := []string{"c.mkv", "a.mkv", "b.mkv"}
	for _, n := range names {
		touch(t, filepath.Join(root, n))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := drain(t, discover(ctx, []string{root}, Options{}))
	want := []string{
		filepath.Join(root, "a.mkv"),
		filepath.Join(root, "b.mkv"),
		filepath.Join(root, "c.mkv"),
	}
	sort.Strings(want)
	assert.Equal(t, want, out)
}

func drain(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	for p := range ch {
		out = append(out, p)
	}
	return out
}

// fakeIdentifier stands in for the Orchestrator. It reports results by
// video path and tracks the high-water mark of concurrent Identify calls.
type fakeIdentifier struct {
	mu          sync.Mutex
	outcomes    map[string]identify.Outcome
	errs        map[string]error
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (f *fakeIdentifier) Identify(ctx context.Context, req identify.Request) (identify.Outcome, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return identify.Outcome{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err, ok := f.errs[req.VideoPath]; ok {
		return identify.Outcome{}, err
	}
	if out, ok := f.outcomes[req.VideoPath]; ok {
		return out, nil
	}
	return identify.Outcome{Result: match.Result{Status: match.StatusNoMatch}}, nil
}

func TestDriver_Run_ReportsSuccessSkipAndFailure(t *testing.T) {
	root := t.TempDir()
	ok := filepath.Join(root, "ok.mkv")
	bad := filepath.Join(root, "bad.mkv")
	ambiguous := filepath.Join(root, "ambiguous.mkv")
	touch(t, ok)
	touch(t, bad)
	touch(t, ambiguous)

	fake := &fakeIdentifier{
		outcomes: map[string]identify.Outcome{
			ok: {Result: match.Result{Status: match.StatusOK, Series: "Show", Season: "01", Episode: "02"}},
		},
		errs: map[string]error{
			bad: errs.New(errs.NoUsableSubtitles, "simulated failure"),
		},
	}

	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 2)}

	result, err := d.Run(context.Background(), []string{root}, Options{}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.Progress.Discovered)
	assert.Equal(t, 1, result.Progress.Succeeded)
	assert.Equal(t, 1, result.Progress.Failed)
	assert.Equal(t, 1, result.Progress.Skipped)
	require.Len(t, result.Progress.Errors, 1)
	assert.Equal(t, bad, result.Progress.Errors[0].Path)

	var successOutcome FileOutcome
	for _, o := range result.Outcomes {
		if o.Path == ok {
			successOutcome = o
		}
	}
	assert.Equal(t, OutcomeSuccess, successOutcome.Kind)
	assert.Equal(t, "Show", successOutcome.Series)
}

func TestDriver_Run_HonorsConfiguredConcurrency(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 6; i++ {
		touch(t, filepath.Join(root, itoa(i)+".mkv"))
	}

	fake := &fakeIdentifier{delay: 20 * time.Millisecond}
	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 3)}

	_, err := d.Run(context.Background(), []string{root}, Options{}, nil)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.LessOrEqual(t, fake.maxInFlight, 3)
	assert.GreaterOrEqual(t, fake.maxInFlight, 1)
}

func TestDriver_Run_StopsAfterErrorBudgetExceeded(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for i := 0; i < 10; i++ {
		p := filepath.Join(root, itoa(i)+".mkv")
		touch(t, p)
		paths = append(paths, p)
	}

	failing := map[string]error{}
	for _, p := range paths {
		failing[p] = errs.New(errs.NoUsableSubtitles, "always fails")
	}
	fake := &fakeIdentifier{errs: failing}

	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 1)}

	result, err := d.Run(context.Background(), []string{root}, Options{MaxErrors: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompletedWithErrors, result.Status)
	assert.Equal(t, len(paths), result.Progress.Discovered)
	assert.Greater(t, result.Progress.Skipped, 0)
	assert.Less(t, result.Progress.Failed, len(paths))
}

func TestDriver_Run_ZeroMaxErrorsIsUnlimited(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for i := 0; i < 10; i++ {
		p := filepath.Join(root, itoa(i)+".mkv")
		touch(t, p)
		paths = append(paths, p)
	}

	failing := map[string]error{}
	for _, p := range paths {
		failing[p] = errs.New(errs.NoUsableSubtitles, "always fails")
	}
	fake := &fakeIdentifier{errs: failing}

	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 1)}

	result, err := d.Run(context.Background(), []string{root}, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, len(paths), result.Progress.Discovered)
	assert.Equal(t, len(paths), result.Progress.Failed)
	assert.Equal(t, 0, result.Progress.Skipped)
}

func TestDriver_Run_CancellationStopsDiscoveryAndReportsCancelled(t *testing.T) {
	root := t.TempDir()
	outcomes := make(map[string]identify.Outcome)
	for i := 0; i < 20; i++ {
		p := filepath.Join(root, itoa(i)+".mkv")
		touch(t, p)
		outcomes[p] = identify.Outcome{Result: match.Result{Status: match.StatusOK, Series: "Show"}}
	}

	fake := &fakeIdentifier{delay: 30 * time.Millisecond, outcomes: outcomes}
	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 2)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	result, err := d.Run(ctx, []string{root}, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.Equal(t, 20, result.Progress.Discovered)
	assert.Less(t, result.Progress.Succeeded, 20)
	assert.Greater(t, result.Progress.Skipped, 0)
}

func TestDriver_Run_RateLimitsProgressCallback(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		touch(t, filepath.Join(root, itoa(i)+".mkv"))
	}

	fake := &fakeIdentifier{}
	d := &Driver{
		Orchestrator:     fake,
		Config:           writeConfig(t, 5),
		ProgressInterval: time.Hour,
	}

	var mu sync.Mutex
	calls := 0
	result, err := d.Run(context.Background(), []string{root}, Options{}, func(Progress) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// Only the final, unconditional emit should have fired given an
	// interval longer than the whole run.
	assert.Equal(t, 1, calls)
	assert.Equal(t, 5, result.Progress.Discovered)
}

func TestDriver_Run_NilOrchestratorResultIsSkippedNotFailed(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "unmatched.mkv")
	touch(t, p)

	fake := &fakeIdentifier{}
	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 1)}

	result, err := d.Run(context.Background(), []string{root}, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Progress.Skipped)
	assert.Equal(t, 0, result.Progress.Failed)
}

func TestDriver_Run_ContextErrorDuringIdentifyIsSkipped(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "slow.mkv")
	touch(t, p)

	fake := &fakeIdentifier{delay: time.Hour}
	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 1)}

	result, err := d.Run(context.Background(), []string{root}, Options{PerFileTimeout: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, OutcomeSkipped, result.Outcomes[0].Kind)
}

func TestDriver_Run_HotReloadedConcurrencyAppliesToNextBatch(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 12; i++ {
		touch(t, filepath.Join(root, itoa(i)+".mkv"))
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "episodeidentifier.config.json")
	writeConfigFile(t, cfgPath, 1)
	store, err := config.NewStore(cfgPath)
	require.NoError(t, err)
	defer store.Close()

	var rewritten sync.Once
	fake := &fakeIdentifier{delay: 10 * time.Millisecond}
	d := &Driver{Orchestrator: fake, Config: store}

	result, err := d.Run(context.Background(), []string{root}, Options{}, func(Progress) {
		// Raise concurrency once the run is underway; the driver re-reads
		// the snapshot at each batch boundary, so later batches widen
		// without disturbing in-flight work.
		rewritten.Do(func() { writeConfigFile(t, cfgPath, 4) })
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 12, result.Progress.Discovered)
	assert.Equal(t, 12, result.Progress.Succeeded+result.Progress.Failed+result.Progress.Skipped)
	assert.Len(t, result.Outcomes, 12)
}

func writeConfigFile(t *testing.T, path string, concurrency int) {
	t.Helper()
	raw := `{
		"schemaVersion": "1.0.0",
		"strategy": "hash",
		"maxConcurrency": ` + itoa(concurrency) + `,
		"thresholds": {
			"text": {"matchConfidence": 0.6, "renameConfidence": 0.85},
			"bitmapRaster": {"matchConfidence": 0.55, "renameConfidence": 0.8},
			"dvdRaster": {"matchConfidence": 0.5, "renameConfidence": 0.75}
		},
		"filenamePatterns": [{"pattern": "(?P<SeriesName>.+) S(?P<Season>\\d+)E(?P<Episode>\\d+)"}],
		"renameTemplate": "{SeriesName} {Season} {Episode}"
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))
}

func TestDriver_Run_EmptyRootCompletesCleanly(t *testing.T) {
	fake := &fakeIdentifier{}
	d := &Driver{Orchestrator: fake, Config: writeConfig(t, 1)}

	result, err := d.Run(context.Background(), []string{t.TempDir()}, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 0, result.Progress.Discovered)
	assert.Empty(t, result.Outcomes)
}
