package bulk

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// discover streams candidate file paths from roots onto a channel,
// respecting opts.Recursive/MaxDepth/Extensions/Exclusions. It never
// materializes the full result in memory: the channel is bounded
// (DefaultQueueDepth) and the walk blocks on send, giving the caller
// natural backpressure. Discovery order is deterministic: lexicographic
// by full path, achieved by sorting the root list up front and relying
// on filepath.WalkDir's own per-directory lexical order.
//
// The returned channel is closed when every root has been walked, ctx is
// cancelled, or send is cancelled by ctx.Done(). Walk errors for a single
// root (e.g. a root that disappeared) are swallowed at the directory
// level and do not stop discovery of the remaining roots — a permission
// or stat error belongs to the per-file outcome, not to discovery.
func discover(ctx context.Context, roots []string, opts Options) <-chan string {
	out := make(chan string, DefaultQueueDepth)

	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(e)] = true
	}

	go func() {
		defer close(out)
		for _, root := range sorted {
			if ctx.Err() != nil {
				return
			}
			walkRoot(ctx, root, opts, extSet, out)
		}
	}()

	return out
}

func walkRoot(ctx context.Context, root string, opts Options, extSet map[string]bool, out chan<- string) {
	info, err := os.Stat(root)
	if err != nil {
		return
	}
	if !info.IsDir() {
		if candidateMatches(root, root, 0, opts, extSet) {
			send(ctx, out, root)
		}
		return
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// A single unreadable directory entry doesn't abort the rest
			// of the walk; skip it and keep going.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		depth := depthOf(root, path)
		if d.IsDir() {
			if path != root && !opts.Recursive {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 && depth > opts.MaxDepth {
				return filepath.SkipDir
			}
			if excluded(path, opts.Exclusions) {
				return filepath.SkipDir
			}
			return nil
		}
		if candidateMatches(root, path, depth, opts, extSet) {
			send(ctx, out, path)
		}
		return nil
	})
}

func candidateMatches(root, path string, depth int, opts Options, extSet map[string]bool) bool {
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return false
	}
	if excluded(path, opts.Exclusions) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return extSet[ext]
}

// excluded reports whether path matches any exclusion substring.
// Exclusion always takes precedence over an extension match.
func excluded(path string, exclusions []string) bool {
	for _, pattern := range exclusions {
		if pattern == "" {
			continue
		}
		if strings.Contains(path, pattern) {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

func depthOf(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func send(ctx context.Context, out chan<- string, path string) {
	select {
	case out <- path:
	case <-ctx.Done():
	}
}

