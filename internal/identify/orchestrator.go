// Package identify is the per-video orchestrator: acquire subtitles,
// optionally rank sentences, match against the catalogue, and rename on
// a confident result. One struct holds every collaborator; configuration
// is read fresh per call through an atomic snapshot.
package identify

import (
	"context"
	"strconv"
	"time"

	"github.com/kaelbrook/episodeid/internal/acquire"
	"github.com/kaelbrook/episodeid/internal/catalogue"
	"github.com/kaelbrook/episodeid/internal/config"
	"github.com/kaelbrook/episodeid/internal/ctph"
	"github.com/kaelbrook/episodeid/internal/embedding"
	"github.com/kaelbrook/episodeid/internal/match"
	"github.com/kaelbrook/episodeid/internal/normalize"
	"github.com/kaelbrook/episodeid/internal/rank"
	"github.com/kaelbrook/episodeid/internal/rename"
	"github.com/kaelbrook/episodeid/pkg/errs"
	"github.com/kaelbrook/episodeid/pkg/log"
)

// Orchestrator wires the pipeline's stages together. Encoder may be nil,
// which disables the embedding and hybrid strategies (the Matcher falls
// back to Hash).
type Orchestrator struct {
	Acquirer  *acquire.Acquirer
	Matcher   *match.Matcher
	Encoder   *embedding.Encoder
	Config    *config.Store
	RankCfg   rank.Config
	UseRanker bool
}

// Request is one identification invocation.
type Request struct {
	VideoPath         string
	PreferredLanguage string
	Series            string // optional filter
	Season            string // optional filter
	Rename            bool
}

// Outcome is what the Orchestrator reports back to the CLI layer.
type Outcome struct {
	Result       match.Result
	SourceFormat acquire.SourceFormat
	// ProposedName is set when Result.ProposedName is: the target path
	// after a successful rename, otherwise the built filename. It stays
	// empty when a requested rename was blocked.
	ProposedName string
	Renamed      bool
}

func formatName(f acquire.SourceFormat) config.SourceFormatName {
	switch f {
	case acquire.Text:
		return config.FormatText
	case acquire.BitmapRaster:
		return config.FormatBitmapRaster
	case acquire.DvdRaster:
		return config.FormatDvdRaster
	default:
		return config.FormatText
	}
}

// Identify runs the full pipeline for req. It is idempotent against
// identical inputs as long as the configuration and catalogue are
// unchanged.
func (o *Orchestrator) Identify(ctx context.Context, req Request) (Outcome, error) {
	scope := log.GetLogger().Scoped(correlationID(req.VideoPath))
	scope.Event(log.LevelInfo, "acquire.start", log.F("video", req.VideoPath))

	acquired, failures, err := o.Acquirer.Acquire(ctx, req.VideoPath, req.PreferredLanguage)
	if err != nil {
		for _, f := range failures {
			scope.Event(log.LevelWarn, "acquire.ladder_failed", log.F("format", string(f.Format)), log.F("stage", f.Stage))
		}
		return Outcome{}, err
	}
	scope.Event(log.LevelInfo, "acquire.succeeded", log.F("format", string(acquired.Format)))

	variants := normalize.Normalize(acquired.RawText)

	textForEmbedding := variants.Clean
	if o.UseRanker {
		if ranked, kept := rank.Rank(variants.Clean, o.RankCfg); kept {
			textForEmbedding = ranked
		}
	}

	fp := match.Fingerprint{
		OriginalHash:    ctph.HashString(variants.Original),
		NoTimecodesHash: ctph.HashString(variants.NoTimecodes),
		NoHtmlHash:      ctph.HashString(variants.NoHtml),
		CleanHash:       ctph.HashString(variants.Clean),
	}

	snap := o.Config.Current()
	thresholds := snap.Threshold(formatName(acquired.Format))

	strategy := snap.Strategy
	if strategy != config.StrategyHash && o.Encoder != nil && textForEmbedding != "" {
		vec, err := o.Encoder.Encode(textForEmbedding)
		if err == nil {
			fp.Embedding = vec
		} else {
			scope.Event(log.LevelWarn, "embedding.fallback_to_hash", log.F("error", err.Error()))
		}
	}

	result, err := o.Matcher.Identify(ctx, fp, strategy, thresholds, match.Filters{Series: req.Series, Season: req.Season})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Result: result, SourceFormat: acquired.Format}
	scope.Event(log.LevelInfo, "match.decided", log.F("status", string(result.Status)), log.F("confidence", strconv.FormatFloat(result.Confidence, 'f', 3, 64)))

	if req.Rename && result.ProposedName {
		name := rename.BuildName(snap.RenameTemplate, rename.Placeholders{
			SeriesName:  result.Series,
			Season:      result.Season,
			Episode:     result.Episode,
			EpisodeName: result.EpisodeName,
		}, extOf(req.VideoPath))

		target, err := rename.Rename(req.VideoPath, name)
		if err != nil {
			scope.Event(log.LevelWarn, "rename.blocked", log.F("error", err.Error()))
			return out, nil
		}
		out.ProposedName = target
		out.Renamed = true
	} else if result.ProposedName {
		out.ProposedName = rename.BuildName(snap.RenameTemplate, rename.Placeholders{
			SeriesName:  result.Series,
			Season:      result.Season,
			Episode:     result.Episode,
			EpisodeName: result.EpisodeName,
		}, extOf(req.VideoPath))
	}

	return out, nil
}

// StoreLabel backs the "store" verb: normalize + fingerprint a
// known-labelled subtitle and write it to the catalogue.
func StoreLabel(ctx context.Context, store *catalogue.Store, enc *embedding.Encoder, rawText, series, season, episode, episodeName string) (bool, error) {
	if rawText == "" {
		return false, errs.New(errs.InvalidInput, "subtitle text is required")
	}
	variants := normalize.Normalize(rawText)
	if variants.Clean == "" {
		return false, errs.New(errs.NoUsableSubtitles, "clean text empty after normalization")
	}

	entry := catalogue.LabelledEntry{
		Series: series, Season: season, Episode: episode, EpisodeName: episodeName,
		OriginalText: variants.Original, NoTimecodesText: variants.NoTimecodes,
		NoHtmlText: variants.NoHtml, CleanText: variants.Clean,
		OriginalHash:    ctph.HashString(variants.Original),
		NoTimecodesHash: ctph.HashString(variants.NoTimecodes),
		NoHtmlHash:      ctph.HashString(variants.NoHtml),
		CleanHash:       ctph.HashString(variants.Clean),
	}

	if enc != nil {
		if vec, err := enc.Encode(variants.Clean); err == nil {
			entry.Embedding = vec
		}
	}

	return store.Store(ctx, entry)
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/' && path[i] != '\\'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func correlationID(seed string) string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + shortHash(seed)
}

func shortHash(s string) string {
	h := ctph.HashString(s)
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
