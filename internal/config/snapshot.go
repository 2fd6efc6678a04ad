// Package config holds the typed, validated, hot-reloadable
// configuration: a whole file is validated and swapped in atomically, or
// rejected wholesale, leaving the previous snapshot active.
package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SourceFormatName names the three per-format threshold buckets. String
// keys (not the acquire.SourceFormat type) keep this package free of a
// dependency on the acquirer.
type SourceFormatName string

const (
	FormatText         SourceFormatName = "text"
	FormatBitmapRaster SourceFormatName = "bitmapRaster"
	FormatDvdRaster    SourceFormatName = "dvdRaster"
)

// Strategy selects the matcher algorithm.
type Strategy string

const (
	StrategyHash      Strategy = "hash"
	StrategyEmbedding Strategy = "embedding"
	StrategyHybrid    Strategy = "hybrid"
)

// FormatThresholds holds the per-source-format confidence knobs.
type FormatThresholds struct {
	EmbeddingSimilarityFloor float64 `json:"embeddingSimilarityFloor"`
	CTPHSimilarityFloor      float64 `json:"ctphSimilarityFloor"`
	MatchConfidence          float64 `json:"matchConfidence"`
	RenameConfidence         float64 `json:"renameConfidence"`
}

// FilenamePattern is one named-group regex candidate for parsing a
// filename into SeriesName/Season/Episode.
type FilenamePattern struct {
	Pattern string `json:"pattern"`

	compiled *regexp.Regexp
}

// Compiled returns the pattern's compiled regexp; Load compiles every
// pattern once so later lookups never fail.
func (p *FilenamePattern) Compiled() *regexp.Regexp { return p.compiled }

// raw is the on-disk JSON shape. MaxConcurrency is untyped so malformed
// values ("foo", negative numbers) load successfully and fall back
// rather than fail the whole file.
type raw struct {
	SchemaVersion    string                                `json:"schemaVersion"`
	Strategy         Strategy                              `json:"strategy"`
	MaxConcurrency   interface{}                           `json:"maxConcurrency"`
	Thresholds       map[SourceFormatName]FormatThresholds `json:"thresholds"`
	FilenamePatterns []FilenamePattern                      `json:"filenamePatterns"`
	RenameTemplate   string                                `json:"renameTemplate"`
}

// Snapshot is the immutable, validated configuration value object. A new
// Snapshot is built wholesale by Load and swapped in atomically by
// Store, never mutated in place.
type Snapshot struct {
	SchemaVersion      string
	Strategy           Strategy
	MaxConcurrency     int
	ConcurrencyWarning string // non-empty when MaxConcurrency fell back
	Thresholds         map[SourceFormatName]FormatThresholds
	FilenamePatterns   []FilenamePattern
	RenameTemplate     string
}

// Threshold returns the thresholds for format, or the zero value if unset.
func (s *Snapshot) Threshold(format SourceFormatName) FormatThresholds {
	return s.Thresholds[format]
}

var requiredPlaceholders = []string{"{SeriesName}", "{Season}", "{Episode}"}

// Parse validates raw JSON bytes and returns a fully-populated Snapshot,
// or a combined error listing every problem found. There are no partial
// applies.
func Parse(data []byte) (*Snapshot, error) {
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("config: invalid JSON: %w", err)
	}

	var problems []string

	if strings.TrimSpace(r.SchemaVersion) == "" {
		problems = append(problems, "schemaVersion is required")
	}
	switch r.Strategy {
	case StrategyHash, StrategyEmbedding, StrategyHybrid:
	default:
		problems = append(problems, fmt.Sprintf("strategy must be one of hash|embedding|hybrid, got %q", r.Strategy))
	}
	if strings.TrimSpace(r.RenameTemplate) == "" {
		problems = append(problems, "renameTemplate is required")
	} else {
		for _, ph := range requiredPlaceholders {
			if !strings.Contains(r.RenameTemplate, ph) {
				problems = append(problems, fmt.Sprintf("renameTemplate must contain %s", ph))
			}
		}
	}

	if len(r.FilenamePatterns) == 0 {
		problems = append(problems, "at least one filenamePattern (the primary pattern) is required")
	}
	compiledPatterns := make([]FilenamePattern, 0, len(r.FilenamePatterns))
	for i, p := range r.FilenamePatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			problems = append(problems, fmt.Sprintf("filenamePatterns[%d]: invalid regex: %v", i, err))
			continue
		}
		names := re.SubexpNames()
		for _, want := range []string{"SeriesName", "Season", "Episode"} {
			if !containsString(names, want) {
				problems = append(problems, fmt.Sprintf("filenamePatterns[%d]: missing named group %s", i, want))
			}
		}
		p.compiled = re
		compiledPatterns = append(compiledPatterns, p)
	}

	for _, format := range []SourceFormatName{FormatText, FormatBitmapRaster, FormatDvdRaster} {
		t, ok := r.Thresholds[format]
		if !ok {
			problems = append(problems, fmt.Sprintf("thresholds.%s is required", format))
			continue
		}
		if t.MatchConfidence > t.RenameConfidence {
			problems = append(problems, fmt.Sprintf("thresholds.%s: matchConfidence (%v) must be <= renameConfidence (%v)", format, t.MatchConfidence, t.RenameConfidence))
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}

	concurrency, warning := resolveConcurrency(r.MaxConcurrency)

	return &Snapshot{
		SchemaVersion:      r.SchemaVersion,
		Strategy:           r.Strategy,
		MaxConcurrency:     concurrency,
		ConcurrencyWarning: warning,
		Thresholds:         r.Thresholds,
		FilenamePatterns:   compiledPatterns,
		RenameTemplate:     r.RenameTemplate,
	}, nil
}

// resolveConcurrency: out-of-range or malformed values fall back to 1
// with a warning; values above 100 clamp to 100.
func resolveConcurrency(v interface{}) (int, string) {
	n, ok := toInt(v)
	if !ok {
		return 1, fmt.Sprintf("maxConcurrency %v is not an integer; falling back to 1", v)
	}
	if n <= 0 {
		return 1, fmt.Sprintf("maxConcurrency %d is not positive; falling back to 1", n)
	}
	if n > 100 {
		return 100, ""
	}
	return n, ""
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
