package match

import (
	"context"
	"sort"

	"github.com/kaelbrook/episodeid/internal/catalogue"
	"github.com/kaelbrook/episodeid/internal/config"
	"github.com/kaelbrook/episodeid/internal/ctph"
)

// Matcher scores a query Fingerprint against the catalogue. It owns the
// scoring loop itself (rather than asking the catalogue to rank rows) so
// the catalogue never needs to know about strategies or confidence.
type Matcher struct {
	Catalogue *catalogue.Store
}

// Identify runs strategy against fp, restricted to filters if given, and
// returns the winning Result. thresholds selects the match/rename cutoffs
// and similarity floors for the subtitle's source format.
func (m *Matcher) Identify(ctx context.Context, fp Fingerprint, strategy config.Strategy, thresholds config.FormatThresholds, filters Filters) (Result, error) {
	if fp.OriginalHash == "" && fp.NoTimecodesHash == "" && fp.NoHtmlHash == "" && fp.CleanHash == "" {
		return Result{Status: StatusNoMatch}, nil
	}

	switch strategy {
	case config.StrategyEmbedding:
		if fp.Embedding == nil {
			return m.identifyHash(ctx, fp, thresholds, filters)
		}
		return m.identifyEmbedding(ctx, fp, thresholds, filters)

	case config.StrategyHybrid:
		if fp.Embedding != nil {
			res, err := m.identifyEmbedding(ctx, fp, thresholds, filters)
			if err != nil {
				return Result{}, err
			}
			if res.Confidence >= thresholds.MatchConfidence {
				return res, nil
			}
		}
		return m.identifyHash(ctx, fp, thresholds, filters)

	default:
		return m.identifyHash(ctx, fp, thresholds, filters)
	}
}

func (m *Matcher) identifyHash(ctx context.Context, fp Fingerprint, thresholds config.FormatThresholds, filters Filters) (Result, error) {
	rows, err := m.Catalogue.Scan(ctx, catalogue.Filter{Series: filters.Series, Season: filters.Season})
	if err != nil {
		return Result{}, err
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		score, ok := hashGridScore(fp, row)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Series: row.Series, Season: row.Season, Episode: row.Episode,
			EpisodeName: row.EpisodeName, Confidence: score,
		})
	}

	return decide(candidates, thresholds), nil
}

// hashGridScore takes the maximum CTPH similarity across the 4x4 grid
// of (query variant, catalogue variant) pairs, normalized to [0,1].
func hashGridScore(fp Fingerprint, row catalogue.LabelledEntry) (float64, bool) {
	queryHashes := []string{fp.OriginalHash, fp.NoTimecodesHash, fp.NoHtmlHash, fp.CleanHash}
	rowHashes := []string{row.OriginalHash, row.NoTimecodesHash, row.NoHtmlHash, row.CleanHash}

	best := -1
	any := false
	for _, qh := range queryHashes {
		if qh == "" {
			continue
		}
		for _, rh := range rowHashes {
			if rh == "" {
				continue
			}
			score, err := ctph.Compare(qh, rh)
			if err != nil {
				continue
			}
			any = true
			if score > best {
				best = score
			}
		}
	}
	if !any {
		return 0, false
	}
	return float64(best) / 100.0, true
}

func (m *Matcher) identifyEmbedding(ctx context.Context, fp Fingerprint, thresholds config.FormatThresholds, filters Filters) (Result, error) {
	var filter *catalogue.Filter
	if filters.Series != "" || filters.Season != "" {
		filter = &catalogue.Filter{Series: filters.Series, Season: filters.Season}
	}

	rows, err := m.Catalogue.NearestByEmbedding(ctx, fp.Embedding, 10, thresholds.EmbeddingSimilarityFloor, filter)
	if err != nil {
		return Result{}, err
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, c := range rows {
		candidates = append(candidates, Candidate{
			Series: c.Entry.Series, Season: c.Entry.Season, Episode: c.Entry.Episode,
			EpisodeName: c.Entry.EpisodeName, Confidence: c.Similarity,
		})
	}

	return decide(candidates, thresholds), nil
}

// decide applies the confidence thresholds to a scored candidate set,
// picking the top candidate, building the ambiguity list (others within
// ambiguityWindow of the top, capped at 3), and setting Status and
// ProposedName.
func decide(candidates []Candidate, thresholds config.FormatThresholds) Result {
	if len(candidates) == 0 {
		return Result{Status: StatusNoMatch}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return lessCandidate(candidates[i], candidates[j])
	})

	top := candidates[0]

	if top.Confidence < thresholds.MatchConfidence {
		return Result{
			Status:    StatusNoMatch,
			Ambiguity: ambiguityList(candidates, top, thresholds),
		}
	}

	res := Result{
		Series: top.Series, Season: top.Season, Episode: top.Episode,
		EpisodeName: top.EpisodeName, Confidence: top.Confidence,
		Status: StatusOK,
	}

	if top.Confidence >= thresholds.RenameConfidence {
		res.ProposedName = true
		return res
	}

	ambiguity := ambiguityList(candidates, top, thresholds)
	if len(ambiguity) > 0 {
		res.Status = StatusAmbiguous
		res.Ambiguity = ambiguity
	}
	return res
}

// ambiguityList returns up to 3 runner-up candidates within
// ambiguityWindow of top's confidence, excluding top itself.
func ambiguityList(candidates []Candidate, top Candidate, thresholds config.FormatThresholds) []Candidate {
	var out []Candidate
	for _, c := range candidates[1:] {
		if top.Confidence-c.Confidence > ambiguityWindow {
			break
		}
		out = append(out, c)
		if len(out) == 3 {
			break
		}
	}
	return out
}

func lessCandidate(a, b Candidate) bool {
	if a.Series != b.Series {
		return a.Series < b.Series
	}
	if a.Season != b.Season {
		return a.Season < b.Season
	}
	return a.Episode < b.Episode
}
