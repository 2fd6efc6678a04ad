// OCR pipelines follow the same child-process shape as FFDemuxer:
// resolve the external binary via exec.LookPath up front, shell out
// through newCommand so the caller's context terminates the child
// gracefully, and surface stderr on failure.

package acquire

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kaelbrook/episodeid/pkg/errs"
)

// TesseractOCR is the default BitmapOCR, backed by the tesseract CLI
// resolved from PATH. It expects bitmapPath to already be an image (the
// Acquirer's BitmapRaster ladder level extracts PGS/DVB subtitles as a
// raster image, not a video stream, so no further decoding is needed
// before recognition).
type TesseractOCR struct {
	cmd string
}

// NewTesseractOCR resolves tesseract from PATH. Returns an
// EnvironmentMissing error if it is absent, the same early fatal
// validation NewFFDemuxer performs for ffmpeg/ffprobe.
func NewTesseractOCR() (*TesseractOCR, error) {
	path, err := exec.LookPath("tesseract")
	if err != nil {
		return nil, errs.Wrap(errs.EnvironmentMissing, "tesseract not found on PATH", err)
	}
	return &TesseractOCR{cmd: path}, nil
}

// Recognize runs tesseract over the extracted bitmap image, passing the
// tesseract traineddata name for language when one is known.
func (t *TesseractOCR) Recognize(ctx context.Context, bitmapPath string, language string) (string, error) {
	args := []string{bitmapPath, "stdout"}
	if data := tesseractLanguageData(language); data != "" {
		args = append(args, "-l", data)
	}

	cmd := newCommand(ctx, t.cmd, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", errs.Wrap(errs.ExtractionFailed, "tesseract recognize "+stderr.String(), err)
	}
	return string(out), nil
}

// VobSub2SRTOCR is the default DvdOCR, backed by the vobsub2srt CLI
// resolved from PATH.
type VobSub2SRTOCR struct {
	cmd string
}

// NewVobSub2SRTOCR resolves vobsub2srt from PATH, the same early fatal
// validation NewFFDemuxer performs for ffmpeg/ffprobe.
func NewVobSub2SRTOCR() (*VobSub2SRTOCR, error) {
	path, err := exec.LookPath("vobsub2srt")
	if err != nil {
		return nil, errs.Wrap(errs.EnvironmentMissing, "vobsub2srt not found on PATH", err)
	}
	return &VobSub2SRTOCR{cmd: path}, nil
}

// Recognize runs vobsub2srt over the shared .idx/.sub basename — the tool
// itself derives both paths from it and writes "<basename>.srt" next to
// them, which this then reads back as the recognized text.
func (v *VobSub2SRTOCR) Recognize(ctx context.Context, idxPath string, subPath string, language string) (string, error) {
	basename := strings.TrimSuffix(idxPath, filepath.Ext(idxPath))

	args := []string{basename}
	if data := tesseractLanguageData(language); data != "" {
		args = append(args, "-l", data)
	}

	cmd := newCommand(ctx, v.cmd, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", errs.Wrap(errs.ExtractionFailed, "vobsub2srt recognize "+stderr.String(), err)
	}

	raw, err := os.ReadFile(basename + ".srt")
	if err != nil {
		return "", errs.Wrap(errs.ExtractionFailed, "read vobsub2srt output", err)
	}
	return string(raw), nil
}

// tesseractLanguageData maps a track's ISO 639-ish tag to the
// traineddata name tesseract/vobsub2srt expect via -l, returning "" (let
// the tool fall back to its own default) for anything unrecognized.
func tesseractLanguageData(iso string) string {
	switch strings.ToLower(iso) {
	case "en", "eng":
		return "eng"
	case "es", "spa":
		return "spa"
	case "fr", "fre", "fra":
		return "fra"
	case "de", "ger", "deu":
		return "deu"
	case "it", "ita":
		return "ita"
	case "ja", "jpn":
		return "jpn"
	default:
		return ""
	}
}
