package acquire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kaelbrook/episodeid/pkg/errs"
	"github.com/kaelbrook/episodeid/pkg/log"
)

// FFDemuxer is the default Demuxer, backed by ffmpeg and ffprobe resolved
// from PATH.
type FFDemuxer struct {
	ffmpegCmd  string
	ffprobeCmd string
}

// NewFFDemuxer resolves ffmpeg and ffprobe from PATH. Returns an
// EnvironmentMissing error if either is absent, so a missing demuxer
// fails startup before any per-file work begins.
func NewFFDemuxer() (*FFDemuxer, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errs.Wrap(errs.EnvironmentMissing, "ffmpeg not found on PATH", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, errs.Wrap(errs.EnvironmentMissing, "ffprobe not found on PATH", err)
	}
	return &FFDemuxer{ffmpegCmd: ffmpegPath, ffprobeCmd: ffprobePath}, nil
}

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Index     int    `json:"index"`
		Tags      struct {
			Language string `json:"language"`
			Title    string `json:"title"`
		} `json:"tags"`
	} `json:"streams"`
}

var textCodecs = map[string]bool{
	"subrip": true, "srt": true, "ass": true, "ssa": true, "mov_text": true, "webvtt": true,
}

var bitmapCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true, "dvb_subtitle": true, "dvb_teletext": true,
}

var dvdCodecs = map[string]bool{
	"dvd_subtitle": true,
}

func formatForCodec(codec string) (SourceFormat, bool) {
	switch {
	case textCodecs[codec]:
		return Text, true
	case bitmapCodecs[codec]:
		return BitmapRaster, true
	case dvdCodecs[codec]:
		return DvdRaster, true
	default:
		return "", false
	}
}

// ListStreams runs ffprobe and returns every recognized subtitle track.
func (f *FFDemuxer) ListStreams(ctx context.Context, videoPath string) ([]Track, error) {
	cmd := newCommand(ctx, f.ffprobeCmd,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "s",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, errs.Wrap(errs.ExtractionFailed, "ffprobe list streams", err)
	}

	var parsed probeResult
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, errs.Wrap(errs.ExtractionFailed, "parse ffprobe output", err)
	}

	tracks := make([]Track, 0, len(parsed.Streams))
	for _, s := range parsed.Streams {
		if s.CodecType != "subtitle" {
			continue
		}
		format, ok := formatForCodec(s.CodecName)
		if !ok {
			continue
		}
		lang := s.Tags.Language
		if lang == "" {
			lang = "und"
		}
		tracks = append(tracks, Track{
			Index:    s.Index,
			Format:   format,
			Language: lang,
			Title:    s.Tags.Title,
		})
	}
	return tracks, nil
}

// Extract demuxes track's bytes into destDir, returning the output path.
// Text tracks are converted to SRT; raster tracks are stream-copied as-is
// so the OCR stage receives the original bitmap/VobSub payload.
func (f *FFDemuxer) Extract(ctx context.Context, videoPath string, track Track, destDir string) (string, error) {
	var outName, codecArg string
	switch track.Format {
	case Text:
		outName, codecArg = "extracted.srt", "srt"
	case BitmapRaster:
		outName, codecArg = "extracted.sup", "copy"
	case DvdRaster:
		outName, codecArg = "extracted.sub", "copy"
	default:
		return "", errs.New(errs.InvalidInput, fmt.Sprintf("unsupported source format %q", track.Format))
	}

	output := filepath.Join(destDir, outName)
	args := []string{
		"-y",
		"-i", videoPath,
		"-map", fmt.Sprintf("0:%d", track.Index),
		"-c:s", codecArg,
		output,
	}

	cmd := newCommand(ctx, f.ffmpegCmd, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", errs.Wrap(errs.ExtractionFailed, "pipe ffmpeg stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return "", errs.Wrap(errs.ExtractionFailed, "start ffmpeg", err)
	}

	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			log.Debug("ffmpeg: %s", scanner.Text())
		}
		close(done)
	}()

	waitErr := cmd.Wait()
	<-done
	if waitErr != nil {
		return "", errs.Wrap(errs.ExtractionFailed, "ffmpeg extract track "+stderr.String(), waitErr)
	}
	return output, nil
}
