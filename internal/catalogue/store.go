// Package catalogue is the single-file embedded relational store backing
// the identification pipeline: a SQLite database (WAL, busy_timeout)
// whose schema is applied from an embed.FS migrations directory tracked
// by a schema_migrations table, holding labelled entries with their four
// fuzzy hashes and an optional embedding vector.
package catalogue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"
	_ "modernc.org/sqlite"

	"github.com/kaelbrook/episodeid/pkg/errs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// schemaMajor is the highest catalogue schema major version this binary
// understands. Opening a file whose recorded major exceeds it is
// refused outright; minor versions at or below it are migrated forward
// idempotently at open time.
const schemaMajor = 1

// Store is the catalogue's embedded database handle. Reads may run
// concurrently; writes are serialized by writeMu (sql.DB itself is
// pooled down to one connection, so the lock guards against interleaved
// multi-statement writes).
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex

	annMu       sync.RWMutex
	ann         *hnsw.Graph[int64]
	lastRebuilt time.Time
}

// Open creates or opens the catalogue at path, applying any pending
// migrations, and builds the in-memory ANN index from existing rows.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.New(errs.InvalidInput, "catalogue path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.CatalogueError, "create catalogue directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogueError, "open sqlite catalogue", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.RebuildIndex(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return errs.Wrap(errs.CatalogueError, "set WAL mode", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return errs.Wrap(errs.CatalogueError, "set busy timeout", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		major INTEGER NOT NULL,
		minor INTEGER NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (major, minor)
	);`); err != nil {
		return errs.Wrap(errs.CatalogueError, "create schema_migrations", err)
	}

	// An older binary must refuse a catalogue written under a newer
	// major schema rather than guess its way through unknown tables.
	var diskMajor sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(major) FROM schema_migrations`).Scan(&diskMajor); err != nil {
		return errs.Wrap(errs.CatalogueError, "read schema version", err)
	}
	if diskMajor.Valid && diskMajor.Int64 > schemaMajor {
		return errs.New(errs.CatalogueError, fmt.Sprintf(
			"catalogue schema major version %d is newer than the supported %d; refusing to open", diskMajor.Int64, schemaMajor))
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return errs.Wrap(errs.CatalogueError, "read embedded migrations", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		major, minor, ok := migrationVersion(entry.Name())
		if !ok || major != schemaMajor {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE major = ? AND minor = ?`, major, minor).Scan(&exists); err != nil {
			return errs.Wrap(errs.CatalogueError, fmt.Sprintf("check migration %s", entry.Name()), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return errs.Wrap(errs.CatalogueError, fmt.Sprintf("read migration %s", entry.Name()), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return errs.Wrap(errs.CatalogueError, fmt.Sprintf("apply migration %s", entry.Name()), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (major, minor) VALUES (?, ?)`, major, minor); err != nil {
			return errs.Wrap(errs.CatalogueError, fmt.Sprintf("record migration %s", entry.Name()), err)
		}
	}
	return nil
}

// migrationVersion parses a migration filename of the form
// "MM_NN_name.sql" into its (major, minor) schema version pair.
func migrationVersion(name string) (int, int, bool) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) < 3 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// Store inserts entry unless its clean_hash already exists, in which
// case it is a suppressed no-op: the clean hash is the catalogue's sole
// deduplication rule. inserted reports whether a new row was written.
func (s *Store) Store(ctx context.Context, entry LabelledEntry) (inserted bool, err error) {
	if entry.CleanHash == "" {
		return false, errs.New(errs.InvalidInput, "entry.CleanHash must not be empty")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var existing int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM labelled_entries WHERE clean_hash = ?`, entry.CleanHash).Scan(&existing); err != nil {
		return false, errs.Wrap(errs.CatalogueError, "check clean_hash duplicate", err)
	}
	if existing > 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO labelled_entries (
			series, season, episode, episode_name,
			original_text, no_timecodes_text, no_html_text, clean_text,
			original_hash, no_timecodes_hash, no_html_hash, clean_hash, embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Series, entry.Season, entry.Episode, entry.EpisodeName,
		entry.OriginalText, entry.NoTimecodesText, entry.NoHtmlText, entry.CleanText,
		entry.OriginalHash, entry.NoTimecodesHash, entry.NoHtmlHash, entry.CleanHash,
		encodeEmbedding(entry.Embedding),
	)
	if err != nil {
		return false, errs.Wrap(errs.CatalogueError, "insert labelled entry", err)
	}

	id, err := res.LastInsertId()
	if err == nil && len(entry.Embedding) == EmbeddingDim {
		s.annMu.Lock()
		if s.ann != nil {
			s.ann.Add(hnsw.MakeNode(id, entry.Embedding))
		}
		s.annMu.Unlock()
	}
	return true, nil
}

// Scan returns all rows matching filter. A season filter without a
// series filter is rejected. Season is matched against both its
// zero-padded and bare-integer forms.
func (s *Store) Scan(ctx context.Context, filter Filter) ([]LabelledEntry, error) {
	if filter.Season != "" && filter.Series == "" {
		return nil, errs.New(errs.InvalidInput, "season filter requires a series filter")
	}

	query := `SELECT id, series, season, episode, episode_name,
		original_text, no_timecodes_text, no_html_text, clean_text,
		original_hash, no_timecodes_hash, no_html_hash, clean_hash, embedding, created_at
		FROM labelled_entries WHERE 1=1`
	args := []any{}

	if filter.Series != "" {
		query += ` AND series = ? COLLATE NOCASE`
		args = append(args, filter.Series)
	}
	if filter.Season != "" {
		forms := seasonForms(filter.Season)
		placeholders := make([]string, len(forms))
		for i, f := range forms {
			placeholders[i] = "?"
			args = append(args, f)
		}
		query += ` AND season IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogueError, "scan labelled entries", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// NearestByEmbedding returns up to k rows whose embedding's cosine
// similarity to query is >= minSimilarity, ordered by similarity
// descending, ties broken by (series, season, episode) ascending. When
// the ANN index has been built it is used to shortlist candidates before
// exact rescoring; otherwise every embedded row is scanned in memory.
func (s *Store) NearestByEmbedding(ctx context.Context, query []float32, k int, minSimilarity float64, filter *Filter) ([]Candidate, error) {
	if len(query) != EmbeddingDim {
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("query embedding must have dimension %d", EmbeddingDim))
	}
	if filter != nil && filter.Season != "" && filter.Series == "" {
		return nil, errs.New(errs.InvalidInput, "season filter requires a series filter")
	}
	if k <= 0 {
		k = 10
	}

	ids, useANN := s.annCandidateIDs(query, k)

	var rows []LabelledEntry
	var err error
	if useANN && len(ids) > 0 {
		rows, err = s.loadByIDs(ctx, ids)
	} else {
		rows, err = s.loadAllEmbedded(ctx)
	}
	if err != nil {
		return nil, err
	}

	f := Filter{}
	if filter != nil {
		f = *filter
	}
	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		if !matchesFilter(row, f) {
			continue
		}
		if len(row.Embedding) != EmbeddingDim {
			continue
		}
		sim := cosineSimilarity(query, row.Embedding)
		if sim >= minSimilarity {
			candidates = append(candidates, Candidate{Entry: row, Similarity: sim})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return lessEntry(candidates[i].Entry, candidates[j].Entry)
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func matchesFilter(row LabelledEntry, f Filter) bool {
	if f.Series != "" && !strings.EqualFold(row.Series, f.Series) {
		return false
	}
	if f.Season != "" {
		match := false
		for _, form := range seasonForms(f.Season) {
			if row.Season == form {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func lessEntry(a, b LabelledEntry) bool {
	if a.Series != b.Series {
		return a.Series < b.Series
	}
	if a.Season != b.Season {
		return a.Season < b.Season
	}
	return a.Episode < b.Episode
}

// RebuildIndex regenerates the ANN index from the embedding column. Safe
// to call while the store is open; readers keep using the previous index
// until the new one is swapped in.
func (s *Store) RebuildIndex(ctx context.Context) error {
	rows, err := s.loadAllEmbedded(ctx)
	if err != nil {
		return err
	}

	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	for _, row := range rows {
		if len(row.Embedding) == EmbeddingDim {
			graph.Add(hnsw.MakeNode(row.ID, row.Embedding))
		}
	}

	s.annMu.Lock()
	s.ann = graph
	s.lastRebuilt = time.Now()
	s.annMu.Unlock()
	return nil
}

// Stats reports catalogue diagnostics for the CLI and the migrator.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM labelled_entries`).Scan(&count); err != nil {
		return Stats{}, errs.Wrap(errs.CatalogueError, "count labelled entries", err)
	}

	s.annMu.RLock()
	indexSize := 0
	if s.ann != nil {
		indexSize = s.ann.Len()
	}
	lastRebuilt := s.lastRebuilt
	s.annMu.RUnlock()

	return Stats{
		Count:         count,
		Dimension:     EmbeddingDim,
		LastRebuildAt: lastRebuilt,
		IndexSize:     indexSize,
	}, nil
}

// EntriesMissingEmbedding returns up to limit rows with a NULL embedding
// and an id greater than afterID, in id order. The cursor is what lets the
// migrator page past rows that failed to encode without re-selecting them
// in the very next batch.
func (s *Store) EntriesMissingEmbedding(ctx context.Context, afterID int64, limit int) ([]LabelledEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, series, season, episode, episode_name,
		original_text, no_timecodes_text, no_html_text, clean_text,
		original_hash, no_timecodes_hash, no_html_hash, clean_hash, embedding, created_at
		FROM labelled_entries WHERE embedding IS NULL AND id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogueError, "scan entries missing embedding", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// SetEmbedding writes a generated embedding for an existing row (used by
// the migrator) and updates the ANN index incrementally.
func (s *Store) SetEmbedding(ctx context.Context, id int64, embedding []float32) error {
	if len(embedding) != EmbeddingDim {
		return errs.New(errs.InvalidInput, fmt.Sprintf("embedding must have dimension %d", EmbeddingDim))
	}

	s.writeMu.Lock()
	_, err := s.db.ExecContext(ctx, `UPDATE labelled_entries SET embedding = ? WHERE id = ?`, encodeEmbedding(embedding), id)
	s.writeMu.Unlock()
	if err != nil {
		return errs.Wrap(errs.CatalogueError, "set embedding", err)
	}

	s.annMu.Lock()
	if s.ann != nil {
		s.ann.Add(hnsw.MakeNode(id, embedding))
	}
	s.annMu.Unlock()
	return nil
}

func (s *Store) annCandidateIDs(query []float32, k int) ([]int64, bool) {
	s.annMu.RLock()
	defer s.annMu.RUnlock()
	if s.ann == nil || s.ann.Len() == 0 {
		return nil, false
	}
	neighbors := s.ann.Search(query, k*4)
	ids := make([]int64, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.Key)
	}
	return ids, true
}

func (s *Store) loadByIDs(ctx context.Context, ids []int64) ([]LabelledEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, series, season, episode, episode_name,
		original_text, no_timecodes_text, no_html_text, clean_text,
		original_hash, no_timecodes_hash, no_html_hash, clean_hash, embedding, created_at
		FROM labelled_entries WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogueError, "load entries by id", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *Store) loadAllEmbedded(ctx context.Context) ([]LabelledEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, series, season, episode, episode_name,
		original_text, no_timecodes_text, no_html_text, clean_text,
		original_hash, no_timecodes_hash, no_html_hash, clean_hash, embedding, created_at
		FROM labelled_entries WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogueError, "load embedded entries", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]LabelledEntry, error) {
	ret := make([]LabelledEntry, 0)
	for rows.Next() {
		var e LabelledEntry
		var embeddingBlob []byte
		if err := rows.Scan(
			&e.ID, &e.Series, &e.Season, &e.Episode, &e.EpisodeName,
			&e.OriginalText, &e.NoTimecodesText, &e.NoHtmlText, &e.CleanText,
			&e.OriginalHash, &e.NoTimecodesHash, &e.NoHtmlHash, &e.CleanHash,
			&embeddingBlob, &e.CreatedAt,
		); err != nil {
			return nil, errs.Wrap(errs.CatalogueError, "scan labelled entry row", err)
		}
		e.Embedding = decodeEmbedding(embeddingBlob)
		ret = append(ret, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.CatalogueError, "iterate labelled entry rows", err)
	}
	return ret, nil
}

func seasonForms(season string) []string {
	season = strings.TrimSpace(season)
	forms := map[string]struct{}{season: {}}
	if n, err := strconv.Atoi(season); err == nil {
		forms[strconv.Itoa(n)] = struct{}{}
		forms[fmt.Sprintf("%02d", n)] = struct{}{}
	}
	out := make([]string, 0, len(forms))
	for f := range forms {
		out = append(out, f)
	}
	return out
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
