package ctph

import "testing"

func TestHash_IdenticalInputsIdenticalHashAndSimilarity100(t *testing.T) {
	text := []byte("General Kenobi, you are a bold one. Your move.")
	h1 := Hash(text)
	h2 := Hash(text)
	if h1 != h2 {
		t.Fatalf("identical input produced different hashes: %q vs %q", h1, h2)
	}
	score, err := Compare(h1, h2)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if score != 100 {
		t.Fatalf("expected similarity 100 for identical hashes, got %d", score)
	}
}

func TestHash_EmptyInputYieldsEmptyHashComparingZero(t *testing.T) {
	if got := Hash(nil); got != EmptyHash {
		t.Fatalf("expected EmptyHash for nil input, got %q", got)
	}
	score, err := Compare(EmptyHash, Hash([]byte("hello")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected 0 similarity against EmptyHash, got %d", score)
	}
}

func TestCompare_LiteralEqualHashStrings(t *testing.T) {
	score, err := Compare("192:znnnb:n", "192:znnnb:n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 100 {
		t.Fatalf("expected 100, got %d", score)
	}
}

func TestCompare_MalformedHashIsInvalidArgumentNotZero(t *testing.T) {
	_, err := Compare("192:znnnb:n", "bad")
	if err == nil {
		t.Fatalf("expected an error for a malformed hash, got none")
	}
}

func TestHash_SmallEditYieldsHighSimilarity(t *testing.T) {
	a := "The quick brown fox jumps over the lazy dog, again and again, many times over."
	b := "The quick brown fox jumps over the lazy dog, again and again, many times over!"
	score, err := Compare(HashString(a), HashString(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 60 {
		t.Fatalf("expected high similarity for a one-character edit, got %d", score)
	}
}

func TestHash_UnrelatedInputsNearZero(t *testing.T) {
	a := "Bones season two, episode thirteen opens in the Jeffersonian lab."
	b := "The stock market tumbled sharply today amid fears of rising interest rates."
	score, err := Compare(HashString(a), HashString(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score > 30 {
		t.Fatalf("expected low similarity for unrelated inputs, got %d", score)
	}
}
