package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// tokenizer is a minimal WordPiece tokenizer matching the vocabulary
// format bundled with standard sentence-embedding ONNX exports: one
// token per line, with [PAD]/[UNK]/[CLS]/[SEP] special tokens present.
// Splitting is greedy longest-match-first.
type tokenizer struct {
	vocab    map[string]int64
	unkID    int64
	clsID    int64
	sepID    int64
	padID    int64
	maxChars int // guards pathological single "words" from blowing up the split loop
}

const (
	tokPAD = "[PAD]"
	tokUNK = "[UNK]"
	tokCLS = "[CLS]"
	tokSEP = "[SEP]"
)

func loadTokenizer(vocabPath string) (*tokenizer, error) {
	f, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("embedding: open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r\n")
		if tok == "" {
			id++
			continue
		}
		vocab[tok] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("embedding: read vocab: %w", err)
	}

	t := &tokenizer{vocab: vocab, maxChars: 100}
	var ok bool
	if t.unkID, ok = vocab[tokUNK]; !ok {
		return nil, fmt.Errorf("embedding: vocab missing %s", tokUNK)
	}
	t.clsID = vocab[tokCLS]
	t.sepID = vocab[tokSEP]
	t.padID = vocab[tokPAD]
	return t, nil
}

// Encode tokenizes text into input IDs and an attention mask of the
// same length, truncated (leaving room for [CLS]/[SEP]) to maxTokens.
func (t *tokenizer) Encode(text string, maxTokens int) (ids []int64, mask []int64, err error) {
	words := basicTokenize(text)

	var pieces []int64
	for _, w := range words {
		sub, ok := t.wordPiece(w)
		if !ok {
			return nil, nil, &TokenizerError{Cause: fmt.Errorf("no wordpiece split for %q", w)}
		}
		pieces = append(pieces, sub...)
	}

	budget := maxTokens - 2
	if budget < 0 {
		budget = 0
	}
	if len(pieces) > budget {
		pieces = pieces[:budget]
	}

	ids = make([]int64, 0, len(pieces)+2)
	ids = append(ids, t.clsID)
	ids = append(ids, pieces...)
	ids = append(ids, t.sepID)

	mask = make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return ids, mask, nil
}

// wordPiece greedily splits w into the longest known vocab pieces,
// prefixing continuation pieces with "##". Falls back to [UNK] for a
// word with no valid split, matching standard WordPiece behavior.
func (t *tokenizer) wordPiece(w string) ([]int64, bool) {
	if len(w) > t.maxChars {
		return []int64{t.unkID}, true
	}

	runes := []rune(w)
	var out []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		var id int64
		found := false
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if v, ok := t.vocab[candidate]; ok {
				id = v
				found = true
				break
			}
			end--
		}
		if !found {
			return []int64{t.unkID}, true
		}
		out = append(out, id)
		start = end
	}
	return out, true
}

// basicTokenize lowercases and splits on whitespace and punctuation,
// matching BERT-style basic tokenization.
func basicTokenize(text string) []string {
	text = strings.ToLower(text)
	var words []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
