package catalogue

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalogue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func entry(series, season, episode, cleanHash string) LabelledEntry {
	return LabelledEntry{
		Series:  series,
		Season:  season,
		Episode: episode,
		CleanText: "clean text for " + cleanHash,
		OriginalHash: cleanHash, NoTimecodesHash: cleanHash,
		NoHtmlHash: cleanHash, CleanHash: cleanHash,
	}
}

// axisVector returns a unit vector along the given axis, so cosine
// similarity between two of them is exactly 1 (same axis) or 0.
func axisVector(axis int) []float32 {
	v := make([]float32, EmbeddingDim)
	v[axis] = 1
	return v
}

// blendVector returns a unit vector between axes a and b, with weight w on
// a: cosine similarity against axisVector(a) is w.
func blendVector(a, b int, w float64) []float32 {
	v := make([]float32, EmbeddingDim)
	v[a] = float32(w)
	v[b] = float32(math.Sqrt(1 - w*w))
	return v
}

func TestStore_DuplicateCleanHashIsSuppressed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inserted, err := store.Store(ctx, entry("Bones", "02", "13", "hash-dup"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same clean hash under a different label: still a true duplicate.
	inserted, err = store.Store(ctx, entry("Other Show", "01", "01", "hash-dup"))
	require.NoError(t, err)
	assert.False(t, inserted)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestStore_EmptyCleanHashIsRejected(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Store(context.Background(), LabelledEntry{Series: "Show", Season: "1", Episode: "1"})
	assert.Error(t, err)
}

func TestScan_SeasonFilterWithoutSeriesIsInvalid(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Scan(context.Background(), Filter{Season: "2"})
	assert.Error(t, err)
}

func TestScan_SeriesFilterIsCaseInsensitive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Store(ctx, entry("Bones", "01", "01", "h1"))
	require.NoError(t, err)
	_, err = store.Store(ctx, entry("The Wire", "01", "01", "h2"))
	require.NoError(t, err)

	rows, err := store.Scan(ctx, Filter{Series: "bones"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bones", rows[0].Series)
}

func TestScan_SeasonMatchesBothPaddedAndBareForms(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Historical catalogues mix the two formats; both must be found by
	// either filter spelling.
	_, err := store.Store(ctx, entry("Bones", "02", "01", "h-padded"))
	require.NoError(t, err)
	_, err = store.Store(ctx, entry("Bones", "2", "02", "h-bare"))
	require.NoError(t, err)
	_, err = store.Store(ctx, entry("Bones", "03", "01", "h-other-season"))
	require.NoError(t, err)

	for _, filterSeason := range []string{"2", "02"} {
		rows, err := store.Scan(ctx, Filter{Series: "Bones", Season: filterSeason})
		require.NoError(t, err)
		assert.Len(t, rows, 2, "season filter %q", filterSeason)
	}
}

func TestNearestByEmbedding_OrdersBySimilarityAndAppliesFloor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	exact := entry("Bones", "02", "13", "h-exact")
	exact.Embedding = axisVector(0)
	close1 := entry("Bones", "02", "14", "h-close")
	close1.Embedding = blendVector(0, 1, 0.9)
	far := entry("Bones", "03", "01", "h-far")
	far.Embedding = axisVector(2)

	for _, e := range []LabelledEntry{exact, close1, far} {
		_, err := store.Store(ctx, e)
		require.NoError(t, err)
	}

	got, err := store.NearestByEmbedding(ctx, axisVector(0), 10, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "13", got[0].Entry.Episode)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, "14", got[1].Entry.Episode)
	assert.InDelta(t, 0.9, got[1].Similarity, 1e-3)
}

func TestNearestByEmbedding_RespectsSeriesFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inSeries := entry("Bones", "01", "01", "h-in")
	inSeries.Embedding = axisVector(0)
	outOfSeries := entry("The Wire", "01", "01", "h-out")
	outOfSeries.Embedding = axisVector(0)

	for _, e := range []LabelledEntry{inSeries, outOfSeries} {
		_, err := store.Store(ctx, e)
		require.NoError(t, err)
	}

	got, err := store.NearestByEmbedding(ctx, axisVector(0), 10, 0.5, &Filter{Series: "bones"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Bones", got[0].Entry.Series)
}

func TestNearestByEmbedding_RejectsWrongDimension(t *testing.T) {
	store := openTestStore(t)
	_, err := store.NearestByEmbedding(context.Background(), make([]float32, 3), 10, 0, nil)
	assert.Error(t, err)
}

func TestNearestByEmbedding_SeasonWithoutSeriesIsInvalid(t *testing.T) {
	store := openTestStore(t)
	_, err := store.NearestByEmbedding(context.Background(), axisVector(0), 10, 0, &Filter{Season: "1"})
	assert.Error(t, err)
}

func TestSetEmbedding_BackfillsAndUpdatesIndex(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Store(ctx, entry("Bones", "01", "01", "h-missing"))
	require.NoError(t, err)

	missing, err := store.EntriesMissingEmbedding(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, store.SetEmbedding(ctx, missing[0].ID, axisVector(0)))

	missing, err = store.EntriesMissingEmbedding(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)

	got, err := store.NearestByEmbedding(ctx, axisVector(0), 10, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
}

func TestEntriesMissingEmbedding_CursorPagesPastRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"h-1", "h-2", "h-3"} {
		_, err := store.Store(ctx, entry("Bones", "01", h, h))
		require.NoError(t, err)
	}

	first, err := store.EntriesMissingEmbedding(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := store.EntriesMissingEmbedding(ctx, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Greater(t, rest[0].ID, first[1].ID)
}

func TestRebuildIndex_ReflectsInStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	embedded := entry("Bones", "01", "01", "h-embedded")
	embedded.Embedding = axisVector(0)
	_, err := store.Store(ctx, embedded)
	require.NoError(t, err)
	_, err = store.Store(ctx, entry("Bones", "01", "02", "h-plain"))
	require.NoError(t, err)

	require.NoError(t, store.RebuildIndex(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1, stats.IndexSize)
	assert.Equal(t, EmbeddingDim, stats.Dimension)
	assert.False(t, stats.LastRebuildAt.IsZero())
}

func TestOpen_RefusesNewerMajorSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Simulate a catalogue last written by a binary with a newer major
	// schema version.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_migrations (major, minor) VALUES (?, ?)`, schemaMajor+1, 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")
}

func TestMigrationVersion_ParsesMajorMinorFilenames(t *testing.T) {
	major, minor, ok := migrationVersion("01_00_init.sql")
	require.True(t, ok)
	assert.Equal(t, 1, major)
	assert.Equal(t, 0, minor)

	_, _, ok = migrationVersion("init.sql")
	assert.False(t, ok)
	_, _, ok = migrationVersion("xx_yy_init.sql")
	assert.False(t, ok)
}

func TestOpen_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Store(ctx, entry("Bones", "01", "01", "h-persist"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.Scan(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "h-persist", rows[0].CleanHash)
}
