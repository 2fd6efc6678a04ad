package acquire

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kaelbrook/episodeid/pkg/errs"
	"github.com/stretchr/testify/assert"
)

type fakeDemuxer struct {
	tracks    []Track
	extracted map[SourceFormat]string
	failFor   map[SourceFormat]bool
}

func (f *fakeDemuxer) ListStreams(ctx context.Context, videoPath string) ([]Track, error) {
	return f.tracks, nil
}

func (f *fakeDemuxer) Extract(ctx context.Context, videoPath string, track Track, destDir string) (string, error) {
	if f.failFor[track.Format] {
		return "", errs.New(errs.ExtractionFailed, "simulated extraction failure")
	}
	out := filepath.Join(destDir, "out")
	if err := os.WriteFile(out, []byte(f.extracted[track.Format]), 0644); err != nil {
		return "", err
	}
	return out, nil
}

func TestAcquire_TextSucceedsFirst(t *testing.T) {
	demux := &fakeDemuxer{
		tracks:    []Track{{Index: 0, Format: Text, Language: "eng"}},
		extracted: map[SourceFormat]string{Text: "1\n00:00:01,000 --> 00:00:02,000\nHello there.\n"},
	}
	a := &Acquirer{Demuxer: demux}

	res, failures, err := a.Acquire(context.Background(), "video.mkv", "eng")
	assert.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, Text, res.Format)
}

func TestAcquire_FallsThroughLadderOnFailure(t *testing.T) {
	demux := &fakeDemuxer{
		tracks: []Track{
			{Index: 0, Format: Text, Language: "eng"},
			{Index: 1, Format: BitmapRaster, Language: "eng"},
		},
		extracted: map[SourceFormat]string{},
		failFor:   map[SourceFormat]bool{Text: true},
	}
	a := &Acquirer{Demuxer: demux, BitmapOCR: fakeOCR{text: "Extracted bitmap text line."}}

	res, failures, err := a.Acquire(context.Background(), "video.mkv", "eng")
	assert.NoError(t, err)
	assert.Len(t, failures, 1)
	assert.Equal(t, BitmapRaster, res.Format)
}

func TestAcquire_AllSourcesExhaustedIsNoUsableSubtitles(t *testing.T) {
	demux := &fakeDemuxer{tracks: nil}
	a := &Acquirer{Demuxer: demux}

	_, _, err := a.Acquire(context.Background(), "video.mkv", "eng")
	assert.True(t, errs.Is(err, errs.NoUsableSubtitles))
}

func TestAcquire_MissingOCRForSelectedTrackFailsFast(t *testing.T) {
	demux := &fakeDemuxer{
		tracks:  []Track{{Index: 0, Format: BitmapRaster, Language: "eng"}},
		failFor: map[SourceFormat]bool{},
	}
	a := &Acquirer{Demuxer: demux}

	_, failures, err := a.Acquire(context.Background(), "video.mkv", "eng")
	assert.True(t, errs.Is(err, errs.EnvironmentMissing))
	assert.Empty(t, failures)
}

type fakeOCR struct{ text string }

func (f fakeOCR) Recognize(ctx context.Context, path string, language string) (string, error) {
	return f.text, nil
}
