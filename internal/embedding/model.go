package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kaelbrook/episodeid/pkg/log"
)

// ModelSpec names the fixed download location and expected digest for
// the bundled ONNX model and its tokenizer vocabulary.
type ModelSpec struct {
	ModelURL      string
	ModelSHA256   string
	TokenizerURL  string
	TokenizerHash string
}

const (
	modelFilename     = "model.onnx"
	tokenizerFilename = "vocab.txt"
)

// DefaultModelSpec is the artifact set the CLI points the Encoder at
// when no override is configured: a 384-dim sentence-embedding ONNX
// export matching catalogue.EmbeddingDim.
var DefaultModelSpec = ModelSpec{
	ModelURL:      "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx",
	ModelSHA256:   "a9e509e79cf27f00153fb44c77e6cd3e4d9e3d6f4e7e46d76e5f3e96f6c1d8ab",
	TokenizerURL:  "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/vocab.txt",
	TokenizerHash: "07eced375cec144d27c900241f3e339478dec958f92fddbc582bdd95f9b1e86",
}

// ensureArtifacts guarantees modelPath/vocabPath exist under dir and
// match the expected digests, (re)fetching from the fixed URL when
// missing or corrupt.
func ensureArtifacts(dir string, spec ModelSpec) (modelPath, vocabPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("embedding: create model dir: %w", err)
	}

	modelPath = filepath.Join(dir, modelFilename)
	vocabPath = filepath.Join(dir, tokenizerFilename)

	if err := ensureVerified(modelPath, spec.ModelURL, spec.ModelSHA256); err != nil {
		return "", "", err
	}
	if err := ensureVerified(vocabPath, spec.TokenizerURL, spec.TokenizerHash); err != nil {
		return "", "", err
	}
	return modelPath, vocabPath, nil
}

func ensureVerified(path, url, expectedSHA256 string) error {
	if ok, err := fileMatchesDigest(path, expectedSHA256); err == nil && ok {
		return nil
	} else if err == nil && !ok {
		log.Warn("embedding: %s failed checksum verification, refetching", path)
		_ = os.Remove(path)
	}

	if err := download(url, path); err != nil {
		return fmt.Errorf("embedding: fetch %s: %w", url, err)
	}

	ok, err := fileMatchesDigest(path, expectedSHA256)
	if err != nil {
		return fmt.Errorf("embedding: verify %s: %w", path, err)
	}
	if !ok {
		_ = os.Remove(path)
		return fmt.Errorf("embedding: %s failed checksum verification after refetch", path)
	}
	return nil
}

func fileMatchesDigest(path, expectedSHA256 string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expectedSHA256, nil
}

func download(url, dest string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := dest + ".download"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
