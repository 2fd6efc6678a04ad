package catalogue

import "time"

// EmbeddingDim is the fixed dimensionality of every stored/queried vector.
const EmbeddingDim = 384

// LabelledEntry is the unit of the catalogue: a known episode's four
// normalized text variants, their four CTPH fingerprints, and an optional
// embedding. It is never mutated in place once stored.
type LabelledEntry struct {
	ID               int64
	Series           string
	Season           string
	Episode          string
	EpisodeName      string
	OriginalText     string
	NoTimecodesText  string
	NoHtmlText       string
	CleanText        string
	OriginalHash     string
	NoTimecodesHash  string
	NoHtmlHash       string
	CleanHash        string
	Embedding        []float32 // len 0 or EmbeddingDim
	CreatedAt        time.Time
}

// Filter restricts Scan to a series and/or season. Season without Series
// is rejected by Scan.
type Filter struct {
	Series string
	Season string
}

// Candidate is one scored row returned by NearestByEmbedding.
type Candidate struct {
	Entry      LabelledEntry
	Similarity float64
}

// Stats summarizes the catalogue for diagnostics and the migrator.
type Stats struct {
	Count         int
	Dimension     int
	LastRebuildAt time.Time
	IndexSize     int
}
