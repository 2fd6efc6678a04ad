// Package file holds small path helpers shared by the extraction
// pipeline.
package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps path's extension for ext, adding ext when the
// filename has none. Used to derive a VobSub .idx sibling from its
// extracted .sub path, so it treats a leading dot (hidden file) as part
// of the name, not as an extension separator.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	base := filepath.Base(path)
	if dot := strings.LastIndex(base, "."); dot > 0 {
		base = base[:dot]
	}
	return filepath.Join(filepath.Dir(path), base+ext)
}
