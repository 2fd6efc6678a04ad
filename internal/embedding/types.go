// Package embedding turns Clean (or ranker-selected) subtitle text into
// a 384-dimensional dense vector via an ONNX sentence-embedding model,
// lazily fetched and SHA-256 verified on first use.
package embedding

import "errors"

// Dim is the embedding width the Catalogue Store and Matcher expect.
const Dim = 384

var (
	// ErrNotLoaded is returned when Encode is called before the model and
	// tokenizer have been successfully loaded.
	ErrNotLoaded = errors.New("embedding: model not loaded")
	// ErrEmptyInput is returned for blank input text.
	ErrEmptyInput = errors.New("embedding: empty input")
)

// TokenizerError wraps a failure to tokenize input text.
type TokenizerError struct {
	Cause error
}

func (e *TokenizerError) Error() string { return "embedding: tokenizer failure: " + e.Cause.Error() }
func (e *TokenizerError) Unwrap() error { return e.Cause }
