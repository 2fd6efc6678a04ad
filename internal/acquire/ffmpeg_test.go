package acquire

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeMockTool(t *testing.T, dir, name, output string, exitCode int) {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "\nEOF\nexit " + strconv.Itoa(exitCode) + "\n"
	if runtime.GOOS == "windows" {
		path += ".bat"
		script = "@echo off\necho " + output + "\nexit /b " + strconv.Itoa(exitCode)
	}
	assert.NoError(t, os.WriteFile(path, []byte(script), 0755))
}

func withMockPath(t *testing.T, dir string) {
	t.Helper()
	original := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+original)
	t.Cleanup(func() { os.Setenv("PATH", original) })
}

func TestFFDemuxer_ListStreams(t *testing.T) {
	mockDir := t.TempDir()
	writeMockTool(t, mockDir, "ffprobe", `{
		"streams": [
			{"index": 2, "codec_type": "subtitle", "codec_name": "subrip", "tags": {"language": "eng"}},
			{"index": 3, "codec_type": "subtitle", "codec_name": "hdmv_pgs_subtitle", "tags": {"language": "eng"}},
			{"index": 4, "codec_type": "audio", "codec_name": "aac", "tags": {"language": "eng"}}
		]
	}`, 0)
	writeMockTool(t, mockDir, "ffmpeg", "", 0)
	withMockPath(t, mockDir)

	demux, err := NewFFDemuxer()
	assert.NoError(t, err)

	tracks, err := demux.ListStreams(context.Background(), "dummy.mkv")
	assert.NoError(t, err)
	assert.Len(t, tracks, 2)
	assert.Equal(t, Text, tracks[0].Format)
	assert.Equal(t, BitmapRaster, tracks[1].Format)
}

func TestNewFFDemuxer_MissingToolIsEnvironmentMissing(t *testing.T) {
	originalPath := os.Getenv("PATH")
	defer os.Setenv("PATH", originalPath)
	os.Setenv("PATH", "")

	_, err := NewFFDemuxer()
	assert.Error(t, err)
}
