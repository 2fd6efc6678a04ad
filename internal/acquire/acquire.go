// Package acquire extracts subtitle text from video containers. Given a
// video path and a preferred language, it walks the Text, BitmapRaster,
// DvdRaster ladder in that fixed priority order, extracting and (for
// raster sources) OCR-ing each candidate track until one yields
// non-empty Clean text.
package acquire

import (
	"context"
	"os"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/kaelbrook/episodeid/internal/normalize"
	"github.com/kaelbrook/episodeid/pkg/errs"
	"github.com/kaelbrook/episodeid/pkg/file"
	"github.com/kaelbrook/episodeid/pkg/log"
)

// Acquirer drives the ladder. BitmapOCR/DvdOCR may be nil if the
// corresponding external tool was not found at startup. A nil field never
// disqualifies the whole ladder up front — a video with only a Text track
// still identifies fine — but if the container's best candidate is
// actually a BitmapRaster/DvdRaster track and no OCR pipeline is wired for
// it, Acquire fails fast with EnvironmentMissing instead of silently
// treating the missing tool as just another failed ladder level.
type Acquirer struct {
	Demuxer   Demuxer
	BitmapOCR BitmapOCR
	DvdOCR    DvdOCR
	WorkDir   string        // base scratch directory; a per-call subdirectory is created under it
	Timeout   time.Duration // per-source timeout; 0 means DefaultTimeout
}

// DefaultTimeout bounds one ladder level's extraction plus OCR, so a
// single failing source cannot consume a whole bulk worker
// indefinitely.
const DefaultTimeout = 5 * time.Minute

// Acquire walks the ladder and returns the first source to yield
// non-empty Clean text, or a NoUsableSubtitles error with every ladder
// level's failure attached.
func (a *Acquirer) Acquire(ctx context.Context, videoPath string, preferredLanguage string) (Result, []FailureRecord, error) {
	tracks, err := a.Demuxer.ListStreams(ctx, videoPath)
	if err != nil {
		return Result{}, nil, err
	}

	failures := make([]FailureRecord, 0, len(Ladder))

	for _, format := range Ladder {
		track, ok := selectTrack(tracks, format, preferredLanguage)
		if !ok {
			continue
		}

		result, err := a.acquireFormat(ctx, videoPath, track)
		if err != nil {
			if errs.Is(err, errs.EnvironmentMissing) {
				// A track of this format exists in the container but the
				// OCR pipeline it needs isn't configured. A missing
				// external tool is fatal, not a recoverable ladder-level
				// failure to fall through.
				return Result{}, failures, err
			}
			failures = append(failures, FailureRecord{Format: format, Stage: "extract", Err: err})
			continue
		}

		variants := normalize.Normalize(result.RawText)
		if variants.Clean != "" {
			if result.Track.Language == "" || result.Track.Language == "und" {
				logDetectedLanguage(result.Track.Format, variants.Clean)
			}
			return result, failures, nil
		}
		failures = append(failures, FailureRecord{Format: format, Stage: "normalize", Err: errs.New(errs.NoUsableSubtitles, "clean text empty after normalization")})
	}

	return Result{}, failures, errs.New(errs.NoUsableSubtitles, "all acquirer sources exhausted")
}

// selectTrack picks the best track of format: exact language match
// first, then lowest track index. Language comparison tolerates the ISO
// 639-1/639-2
// mismatch a container's tags commonly carry (e.g. "eng" vs "en") by
// normalizing both sides through golang.org/x/text/language before
// falling back to a literal string match.
func selectTrack(tracks []Track, format SourceFormat, preferredLanguage string) (Track, bool) {
	var best Track
	found := false
	bestRank := 2 // 0 = language match, 1 = no match, 2 = none seen

	for _, t := range tracks {
		if t.Format != format {
			continue
		}
		rank := 1
		if preferredLanguage != "" && languagesMatch(t.Language, preferredLanguage) {
			rank = 0
		}
		if !found || rank < bestRank || (rank == bestRank && t.Index < best.Index) {
			best = t
			bestRank = rank
			found = true
		}
	}
	return best, found
}

// languagesMatch compares two language tags by their base (ISO 639-1)
// code so "eng" and "en" are treated as the same preference.
func languagesMatch(a, b string) bool {
	if a == b {
		return true
	}
	ta, erra := language.Parse(a)
	tb, errb := language.Parse(b)
	if erra != nil || errb != nil {
		return false
	}
	baseA, _ := ta.Base()
	baseB, _ := tb.Base()
	return baseA == baseB
}

// logDetectedLanguage runs whatlanggo over text purely for diagnostics
// when the container tagged the selected track "und": it never changes
// ladder selection, only what gets logged for a human operator trying
// to understand why a file matched (or didn't).
func logDetectedLanguage(format SourceFormat, text string) {
	iso := whatlanggo.DetectLang(text).Iso6391()
	if iso == "" {
		return
	}
	log.Debug("acquire: detected language %s for untagged %s track", iso, format)
}

func (a *Acquirer) acquireFormat(ctx context.Context, videoPath string, track Track) (Result, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scratch, err := os.MkdirTemp(a.WorkDir, "episodeid-acquire-*")
	if err != nil {
		return Result{}, errs.Wrap(errs.ExtractionFailed, "create scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	extractedPath, err := a.Demuxer.Extract(opCtx, videoPath, track, scratch)
	if err != nil {
		return Result{}, err
	}

	switch track.Format {
	case Text:
		raw, err := os.ReadFile(extractedPath)
		if err != nil {
			return Result{}, errs.Wrap(errs.ExtractionFailed, "read extracted text track", err)
		}
		return Result{RawText: string(raw), Format: Text, Track: track}, nil

	case BitmapRaster:
		if a.BitmapOCR == nil {
			return Result{}, errs.New(errs.EnvironmentMissing, "no bitmap OCR pipeline configured")
		}
		text, err := a.BitmapOCR.Recognize(opCtx, extractedPath, track.Language)
		if err != nil {
			return Result{}, errs.Wrap(errs.ExtractionFailed, "bitmap OCR", err)
		}
		return Result{RawText: text, Format: BitmapRaster, Track: track}, nil

	case DvdRaster:
		if a.DvdOCR == nil {
			return Result{}, errs.New(errs.EnvironmentMissing, "no DVD raster OCR pipeline configured")
		}
		idxPath := file.ReplaceExt(extractedPath, ".idx")
		text, err := a.DvdOCR.Recognize(opCtx, idxPath, extractedPath, track.Language)
		if err != nil {
			return Result{}, errs.Wrap(errs.ExtractionFailed, "DVD raster OCR", err)
		}
		return Result{RawText: text, Format: DvdRaster, Track: track}, nil

	default:
		return Result{}, errs.New(errs.InvalidInput, "unknown source format")
	}
}
