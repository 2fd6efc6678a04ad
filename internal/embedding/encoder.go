package embedding

import (
	"fmt"
	"math"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// MaxTokens bounds tokenized input length; longer text is truncated.
const MaxTokens = 256

// Encoder lazily loads an ONNX sentence-embedding model and tokenizer
// from dir and serves Encode calls. Safe for concurrent use: a single
// session is shared rather than pooled one-per-worker, and inference
// calls on it are serialized under the Encoder's mutex.
type Encoder struct {
	dir  string
	spec ModelSpec

	mu        sync.Mutex
	loaded    bool
	tokenizer *tokenizer
	session   *ort.DynamicAdvancedSession
}

// NewEncoder constructs an Encoder that loads its artifacts from dir on
// first Encode call.
func NewEncoder(dir string, spec ModelSpec) *Encoder {
	return &Encoder{dir: dir, spec: spec}
}

// Encode tokenizes text and runs it through the model, returning a
// unit-normalized Dim-length vector.
func (e *Encoder) Encode(text string) ([]float32, error) {
	vecs, err := e.EncodeBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch encodes multiple texts in a single inference call.
func (e *Encoder) EncodeBatch(texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyInput
		}
	}

	if err := e.ensureLoaded(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotLoaded, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	batchIDs := make([][]int64, len(texts))
	batchMask := make([][]int64, len(texts))
	maxLen := 0
	for i, t := range texts {
		ids, mask, err := e.tokenizer.Encode(t, MaxTokens)
		if err != nil {
			return nil, err
		}
		batchIDs[i] = ids
		batchMask[i] = mask
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}

	flatIDs := make([]int64, len(texts)*maxLen)
	flatMask := make([]int64, len(texts)*maxLen)
	for i := range texts {
		copy(flatIDs[i*maxLen:], batchIDs[i])
		copy(flatMask[i*maxLen:], batchMask[i])
		// padded positions default to 0/0, which is the PAD id and a
		// masked-out attention position.
	}

	inputShape := ort.NewShape(int64(len(texts)), int64(maxLen))
	idsTensor, err := ort.NewTensor(inputShape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("embedding: build input tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(inputShape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("embedding: build mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputShape := ort.NewShape(int64(len(texts)), int64(maxLen), int64(Dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("embedding: build output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.Value{idsTensor, maskTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("embedding: inference: %w", err)
	}

	return meanPoolAndNormalize(outputTensor.GetData(), len(texts), maxLen, batchMask), nil
}

// meanPoolAndNormalize applies mean pooling over the token dimension
// (masking out padding) and L2-normalizes each resulting vector, the
// standard sentence-embedding head for this model family.
func meanPoolAndNormalize(tokenEmbeddings []float32, batch, seqLen int, masks [][]int64) [][]float32 {
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		sum := make([]float32, Dim)
		var count float32
		for s := 0; s < seqLen; s++ {
			if s >= len(masks[b]) || masks[b][s] == 0 {
				continue
			}
			base := (b*seqLen + s) * Dim
			for d := 0; d < Dim; d++ {
				sum[d] += tokenEmbeddings[base+d]
			}
			count++
		}
		if count == 0 {
			count = 1
		}
		var norm float64
		for d := 0; d < Dim; d++ {
			sum[d] /= count
			norm += float64(sum[d]) * float64(sum[d])
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for d := 0; d < Dim; d++ {
				sum[d] = float32(float64(sum[d]) / norm)
			}
		}
		out[b] = sum
	}
	return out
}

func (e *Encoder) ensureLoaded() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}

	modelPath, vocabPath, err := ensureArtifacts(e.dir, e.spec)
	if err != nil {
		return err
	}

	tok, err := loadTokenizer(vocabPath)
	if err != nil {
		return err
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("embedding: initialize onnxruntime: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"last_hidden_state"},
		nil)
	if err != nil {
		return fmt.Errorf("embedding: load model %s: %w", modelPath, err)
	}

	e.tokenizer = tok
	e.session = session
	e.loaded = true
	return nil
}

// Close releases the underlying onnxruntime session.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
