package main

import (
	"encoding/json"
	"os"

	"github.com/kaelbrook/episodeid/internal/match"
	"github.com/kaelbrook/episodeid/pkg/errs"
)

// resultEnvelope is the single JSON object emitted on stdout by identify
// and store, and by any verb that reports a failure through
// envelopeFromError. bulk-identify and migrate-embeddings write their own
// summary object (writeBulkResult, writeMigrateSummary) on success.
type resultEnvelope struct {
	Status           string              `json:"status"`
	Series           string              `json:"series,omitempty"`
	Season           string              `json:"season,omitempty"`
	Episode          string              `json:"episode,omitempty"`
	EpisodeName      string              `json:"episode_name,omitempty"`
	Confidence       *float64            `json:"confidence,omitempty"`
	ProposedFilename string              `json:"proposed_filename,omitempty"`
	Renamed          bool                `json:"renamed,omitempty"`
	Inserted         *bool               `json:"inserted,omitempty"`
	Error            *envelopeError      `json:"error,omitempty"`
	Ambiguity        []envelopeCandidate `json:"ambiguity,omitempty"`
}

type envelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type envelopeCandidate struct {
	Series      string  `json:"series"`
	Season      string  `json:"season"`
	Episode     string  `json:"episode"`
	EpisodeName string  `json:"episode_name,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// writeEnvelope marshals env to stdout as a single JSON line.
func writeEnvelope(env resultEnvelope) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(env)
}

// envelopeFromResult turns a match.Result into the stdout envelope,
// optionally folding in a rename outcome.
func envelopeFromResult(res match.Result, proposedName string, renamed bool) resultEnvelope {
	env := resultEnvelope{Status: string(res.Status)}
	if res.Status == match.StatusOK || res.Status == match.StatusAmbiguous {
		env.Series = res.Series
		env.Season = res.Season
		env.Episode = res.Episode
		env.EpisodeName = res.EpisodeName
		conf := res.Confidence
		env.Confidence = &conf
	}
	if res.Status == match.StatusOK {
		env.ProposedFilename = proposedName
		env.Renamed = renamed
	}
	if res.Status == match.StatusAmbiguous {
		env.Ambiguity = make([]envelopeCandidate, 0, len(res.Ambiguity))
		for _, c := range res.Ambiguity {
			env.Ambiguity = append(env.Ambiguity, envelopeCandidate{
				Series: c.Series, Season: c.Season, Episode: c.Episode,
				EpisodeName: c.EpisodeName, Confidence: c.Confidence,
			})
		}
	}
	return env
}

// envelopeFromError turns a pipeline error into an "error" status
// envelope, attaching its Kind when the error carries one.
func envelopeFromError(err error) resultEnvelope {
	env := resultEnvelope{Status: "error", Error: &envelopeError{Message: err.Error()}}
	if kind, ok := errs.KindOf(err); ok {
		env.Error.Kind = string(kind)
	} else {
		env.Error.Kind = "Unknown"
	}
	return env
}
