// Package rename builds a target filename from a template, sanitizes it
// for the filesystem, and performs the rename only when every safety
// precondition holds.
package rename

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kaelbrook/episodeid/pkg/errs"
)

const maxNameLength = 255

var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

var (
	reservedCharPattern = regexp.MustCompile(`[<>:"|?*\\/]`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

// Placeholders is the substitution set for a rename template.
type Placeholders struct {
	SeriesName  string
	Season      string
	Episode     string
	EpisodeName string
}

// BuildName substitutes placeholders into template and sanitizes the
// result, preserving ext exactly.
func BuildName(template string, p Placeholders, ext string) string {
	name := template
	name = strings.ReplaceAll(name, "{SeriesName}", p.SeriesName)
	name = strings.ReplaceAll(name, "{Season}", p.Season)
	name = strings.ReplaceAll(name, "{Episode}", p.Episode)
	name = strings.ReplaceAll(name, "{EpisodeName}", p.EpisodeName)

	name = Sanitize(name)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return truncatePreservingExt(name, ext)
}

// Sanitize makes name safe as a single path component: reserved
// characters and control bytes become a single space, whitespace runs
// collapse, trailing dots/spaces are stripped, and reserved device
// stems get an underscore appended.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	name = reservedCharPattern.ReplaceAllString(b.String(), " ")
	name = whitespaceRun.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	name = strings.TrimRight(name, ". ")

	stem := name
	if idx := strings.LastIndex(name, "."); idx > 0 {
		stem = name[:idx]
	}
	if reservedDeviceNames[strings.ToUpper(stem)] {
		name = name + "_"
	}

	if name == "" {
		name = "_"
	}
	return name
}

// truncatePreservingExt trims name to maxNameLength total bytes
// (including ext), keeping ext intact.
func truncatePreservingExt(name, ext string) string {
	full := name + ext
	if len(full) <= maxNameLength {
		return full
	}
	budget := maxNameLength - len(ext)
	if budget < 0 {
		budget = 0
	}
	if budget > len(name) {
		budget = len(name)
	}
	return strings.TrimRight(name[:budget], ". ") + ext
}

// Rename moves source to a new name within the same directory. The
// source must exist and be writable, the target must sit in the
// source's own directory, and nothing may already occupy the target
// path. The move is a single os.Rename, which is atomic when source and
// target share a volume.
func Rename(sourcePath, newName string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", errs.Wrap(errs.RenameBlocked, "source does not exist", err)
	}
	if info.IsDir() {
		return "", errs.New(errs.RenameBlocked, "source is a directory")
	}

	dir := filepath.Dir(sourcePath)
	target := filepath.Join(dir, newName)

	if filepath.Dir(target) != dir {
		return "", errs.New(errs.RenameBlocked, "target must remain within the source directory")
	}

	if _, err := os.Stat(target); err == nil {
		return "", errs.New(errs.RenameBlocked, fmt.Sprintf("target already exists: %s", target))
	} else if !os.IsNotExist(err) {
		return "", errs.Wrap(errs.RenameBlocked, "stat target", err)
	}

	if err := checkWritable(sourcePath); err != nil {
		return "", errs.Wrap(errs.RenameBlocked, "source is not writable", err)
	}

	if err := os.Rename(sourcePath, target); err != nil {
		return "", errs.Wrap(errs.RenameBlocked, "rename", err)
	}
	return target, nil
}

func checkWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}
