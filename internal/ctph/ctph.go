// Package ctph computes context-triggered piecewise hashes (a
// ssdeep-style fuzzy hash) over subtitle text and compares them. A
// rolling checksum triggers piece boundaries; each piece is folded down
// to one signature character via xxhash.
package ctph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	minBlocksize   = 3
	spamSumLength  = 64
	rollingWindow  = 7
	base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

// EmptyHash is the defined hash for empty input. It compares as 0 against
// any other hash, including another EmptyHash.
const EmptyHash = "0::"

// rollingState is the classic ssdeep rolling checksum: a 7-byte trailing
// window plus three accumulators, triggering a piece boundary whenever its
// value is congruent to -1 modulo the current blocksize.
type rollingState struct {
	window     [rollingWindow]byte
	h1, h2, h3 uint32
	n          uint32
}

func (r *rollingState) update(b byte) uint32 {
	idx := r.n % rollingWindow
	r.h2 -= r.h1
	r.h2 += rollingWindow * uint32(b)
	r.h1 += uint32(b)
	r.h1 -= uint32(r.window[idx])
	r.window[idx] = b
	r.n++
	r.h3 = (r.h3 << 5) ^ uint32(b)
	return r.h1 + r.h2 + r.h3
}

// pieceHasher accumulates bytes between trigger points and folds them down
// to one base64-alphabet character per piece via xxhash.
type pieceHasher struct {
	digest *xxhash.Digest
	sig    strings.Builder
}

func newPieceHasher() *pieceHasher {
	return &pieceHasher{digest: xxhash.New()}
}

func (p *pieceHasher) write(b byte) {
	p.digest.Write([]byte{b})
}

func (p *pieceHasher) boundary() {
	if p.sig.Len() >= spamSumLength {
		return
	}
	sum := p.digest.Sum64()
	p.sig.WriteByte(base64Alphabet[sum&0x3f])
	p.digest.Reset()
}

func (p *pieceHasher) finish() string {
	if p.digest.Sum64() != xxhash.Sum64(nil) || p.sig.Len() == 0 {
		sum := p.digest.Sum64()
		p.sig.WriteByte(base64Alphabet[sum&0x3f])
	}
	return p.sig.String()
}

// blocksizeFor picks the starting blocksize the way ssdeep does: the
// smallest power-of-two multiple of 3 such that roughly spamSumLength
// pieces are produced.
func blocksizeFor(n int) int {
	bs := minBlocksize
	for bs*spamSumLength < n {
		bs *= 2
	}
	if bs < minBlocksize {
		bs = minBlocksize
	}
	return bs
}

// Hash computes the context-triggered piecewise hash of data. The result
// has the form "blocksize:segment1:segment2", where segment1 is built with
// the chosen blocksize and segment2 with double that blocksize.
func Hash(data []byte) string {
	if len(data) == 0 {
		return EmptyHash
	}

	bs := blocksizeFor(len(data))

	roll := &rollingState{}
	h1 := newPieceHasher()
	h2 := newPieceHasher()

	for _, b := range data {
		h1.write(b)
		h2.write(b)
		trigger := roll.update(b)
		if int(trigger)%bs == bs-1 {
			h1.boundary()
		}
		if int(trigger)%(bs*2) == (bs*2)-1 {
			h2.boundary()
		}
	}

	return fmt.Sprintf("%d:%s:%s", bs, h1.finish(), h2.finish())
}

// HashString is a convenience wrapper for string input.
func HashString(s string) string {
	return Hash([]byte(s))
}

type parsed struct {
	blocksize int
	seg1      string
	seg2      string
}

func parse(hash string) (parsed, error) {
	parts := strings.SplitN(hash, ":", 3)
	if len(parts) != 3 {
		return parsed{}, fmt.Errorf("ctph: malformed hash %q: expected blocksize:segment1:segment2", hash)
	}
	bs, err := strconv.Atoi(parts[0])
	if err != nil {
		return parsed{}, fmt.Errorf("ctph: malformed hash %q: non-integer blocksize: %w", hash, err)
	}
	return parsed{blocksize: bs, seg1: parts[1], seg2: parts[2]}, nil
}

// Compare returns the similarity, in [0, 100], between two CTPH hash
// strings. Identical hashes compare as 100. Malformed hashes (wrong shape,
// non-integer blocksize) are reported as an error rather than silently
// scored 0, per the matcher's contract.
func Compare(a, b string) (int, error) {
	if a == EmptyHash || b == EmptyHash {
		ha, errA := parse(a)
		hb, errB := parse(b)
		if errA != nil {
			return 0, errA
		}
		if errB != nil {
			return 0, errB
		}
		_ = ha
		_ = hb
		return 0, nil
	}

	ha, err := parse(a)
	if err != nil {
		return 0, err
	}
	hb, err := parse(b)
	if err != nil {
		return 0, err
	}

	if ha.blocksize == hb.blocksize {
		return max(segmentScore(ha.seg1, hb.seg1), segmentScore(ha.seg2, hb.seg2)), nil
	}
	if ha.blocksize*2 == hb.blocksize {
		return segmentScore(ha.seg2, hb.seg1), nil
	}
	if hb.blocksize*2 == ha.blocksize {
		return segmentScore(ha.seg1, hb.seg2), nil
	}
	return 0, nil
}

// segmentScore scores two same-blocksize signature segments using
// normalized Levenshtein distance, gated by a minimum common substring
// length (the classic ssdeep requirement that prevents unrelated strings
// with a handful of matching characters from scoring above noise).
func segmentScore(a, b string) int {
	if a == "" || b == "" {
		if a == b {
			return 100
		}
		return 0
	}
	if a == b {
		return 100
	}
	if longestCommonSubstring(a, b) < minCommonRun(a, b) {
		return 0
	}

	dist := levenshtein(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	score := 100 - (dist*100)/longest
	if score < 0 {
		score = 0
	}
	return score
}

func minCommonRun(a, b string) int {
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter < 7 {
		return shorter
	}
	return 7
}

func longestCommonSubstring(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	longest := 0
	for i := 1; i <= len(a); i++ {
		cur := make([]int, len(b)+1)
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > longest {
					longest = cur[j]
				}
			}
		}
		prev = cur
	}
	return longest
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
