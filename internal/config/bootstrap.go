package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// ProcessOptions are the process-level knobs that are read once at
// startup from the environment (optionally seeded by a .env file) and
// never hot-reloaded. This is deliberately separate from Snapshot: the
// schema-versioned, hot-reloadable fields live there, while things like
// "where is the catalogue file" are fixed for the life of the process.
type ProcessOptions struct {
	ConfigPath string // path to episodeidentifier.config.json
	HashDBPath string // path to the catalogue store file
	ModelsDir  string // directory holding the embedding model + tokenizer
	LogLevel   string
}

const (
	envConfigPath = "EPISODEID_CONFIG"
	envHashDB     = "EPISODEID_HASH_DB"
	envModelsDir  = "EPISODEID_MODELS_DIR"
	envLogLevel   = "EPISODEID_LOG_LEVEL"
)

// Bootstrap loads an optional .env file (ignored if absent) and resolves
// ProcessOptions from the environment, applying defaults under the
// user's home directory where a value isn't set.
func Bootstrap(envFile string) ProcessOptions {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	home, _ := os.UserHomeDir()
	baseDir := filepath.Join(home, ".episodeidentifier")

	opts := ProcessOptions{
		ConfigPath: getenvDefault(envConfigPath, filepath.Join(baseDir, "episodeidentifier.config.json")),
		HashDBPath: getenvDefault(envHashDB, filepath.Join(baseDir, "catalogue.db")),
		ModelsDir:  getenvDefault(envModelsDir, filepath.Join(baseDir, "models")),
		LogLevel:   getenvDefault(envLogLevel, "info"),
	}
	return opts
}

func getenvDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// defaultConfigJSON is a conservative, always-valid Snapshot: hash
// strategy (no model download required to get started), a single
// "Series SXXEYY" filename pattern, and thresholds tuned loose enough to
// surface candidates without over-committing to a rename.
const defaultConfigJSON = `{
  "schemaVersion": "1.0.0",
  "strategy": "hash",
  "maxConcurrency": 4,
  "thresholds": {
    "text": {"ctphSimilarityFloor": 40, "matchConfidence": 0.6, "renameConfidence": 0.85},
    "bitmapRaster": {"ctphSimilarityFloor": 35, "matchConfidence": 0.55, "renameConfidence": 0.8},
    "dvdRaster": {"ctphSimilarityFloor": 30, "matchConfidence": 0.5, "renameConfidence": 0.75}
  },
  "filenamePatterns": [
    {"pattern": "(?P<SeriesName>.+?)[. ]S(?P<Season>\\d{1,2})E(?P<Episode>\\d{1,3})"}
  ],
  "renameTemplate": "{SeriesName} - S{Season}E{Episode} - {EpisodeName}"
}
`

// EnsureDefault writes defaultConfigJSON to path if nothing exists there
// yet, so a first run has a valid Snapshot to load without requiring the
// operator to hand-author one first.
func EnsureDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigJSON), 0o644)
}
