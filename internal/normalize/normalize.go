// Package normalize produces the four canonical subtitle text variants
// the rest of the pipeline hashes and embeds. It strips in place rather
// than parsing into cue structs, since raw subtitle bytes may come from
// a demuxed text track or from an OCR pipeline that never produced cue
// numbers at all.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// Variants holds the four comparable forms of a subtitle's text.
type Variants struct {
	Original    string
	NoTimecodes string
	NoHtml      string
	Clean       string
}

var (
	cueNumberLine = regexp.MustCompile(`^\d+$`)
	timecodeLine  = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[,.]\d{3}.*$`)
	webvttHeader  = regexp.MustCompile(`^WEBVTT.*$`)
	htmlTag       = regexp.MustCompile(`<[^>]*>`)
	assOverride   = regexp.MustCompile(`\{\\[^}]*\}`)
	whitespaceRun = regexp.MustCompile(`[ \t]+`)
	blankLinesRun = regexp.MustCompile(`\n{2,}`)
)

// Normalize computes all four variants from raw subtitle text. It is pure:
// the same input always yields the same output, with no locale-dependent
// casing applied anywhere in the pipeline.
func Normalize(raw string) Variants {
	if strings.TrimSpace(raw) == "" {
		return Variants{}
	}

	original := raw
	noTimecodes := stripTimecodes(original)
	noHTML := stripMarkup(original)
	clean := collapseWhitespace(stripControl(stripMarkup(stripTimecodes(original))))

	return Variants{
		Original:    original,
		NoTimecodes: noTimecodes,
		NoHtml:      noHTML,
		Clean:       clean,
	}
}

// stripTimecodes removes cue-number lines, SRT/WebVTT timing lines, and the
// WEBVTT file header, leaving only caption text lines.
func stripTimecodes(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			out = append(out, "")
			continue
		}
		if cueNumberLine.MatchString(trimmed) {
			continue
		}
		if timecodeLine.MatchString(trimmed) {
			continue
		}
		if webvttHeader.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// stripMarkup removes inline HTML-style tags (<b>, <i>, <font ...>) and
// ASS/SSA style override blocks ({\an8}, {\pos(...)}).
func stripMarkup(text string) string {
	text = htmlTag.ReplaceAllString(text, "")
	text = assOverride.ReplaceAllString(text, "")
	return text
}

// stripControl removes non-printable control characters, keeping newline
// and tab (collapsed by collapseWhitespace) since those carry structure.
func stripControl(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// collapseWhitespace collapses runs of spaces/tabs and blank lines, and
// trims leading/trailing whitespace from the whole text.
func collapseWhitespace(text string) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRun.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
