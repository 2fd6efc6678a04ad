// Package match scores a query subtitle's fingerprint against the
// catalogue using the Hash, Embedding, or Hybrid strategy and turns the
// winning confidence into an identification decision.
package match

// Fingerprint is the query-side counterpart of a catalogue.LabelledEntry:
// four CTPH hashes over the four normalized variants, plus an optional
// embedding over Clean (or ranker-selected) text.
type Fingerprint struct {
	OriginalHash    string
	NoTimecodesHash string
	NoHtmlHash      string
	CleanHash       string
	Embedding       []float32 // nil when the embedding strategy path was not used
}

// Result is one identification decision.
type Result struct {
	Series          string
	Season          string
	Episode         string
	EpisodeName     string
	Confidence      float64
	SourceFormat    string
	Ambiguity       []Candidate // up to 3, only populated below rename confidence
	ProposedName    bool        // true when confidence reached rename threshold; filename itself is built by internal/rename
	Status          Status
}

// Status mirrors the CLI envelope's JSON status field.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNoMatch   Status = "no_match"
	StatusAmbiguous Status = "ambiguous"
)

// Candidate is one scored catalogue row, used both as the winning result
// and as an ambiguity list entry.
type Candidate struct {
	Series      string
	Season      string
	Episode     string
	EpisodeName string
	Confidence  float64
}

// Filters narrows the search the same way catalogue.Filter does.
type Filters struct {
	Series string
	Season string
}

// ambiguityWindow is the band below the top candidate's confidence
// within which a runner-up counts as ambiguous.
const ambiguityWindow = 0.10
