// Package merge overlays generated files onto a baseline project tree.
package merge

import (
	"path"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/joss/buildlab/internal/domain"
)

// Apply returns baseline overlaid with files. A path present in both takes
// the generated entry. The result is always recomputed from baseline, so
// the tree depends only on (baseline, files). Neither input is modified.
// Entries whose path is not well formed are dropped. When several keys
// normalize to the same path, a key already in normal form wins; otherwise
// the smallest key does.
func Apply(baseline domain.ProjectTree, files map[string]domain.FileEntry) domain.ProjectTree {
	out := make(domain.ProjectTree, len(baseline)+len(files))
	for p, entry := range baseline {
		out[p] = entry
	}

	keys := make([]string, 0, len(files))
	for p := range files {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	chosen := make(map[string]string, len(keys))
	for _, p := range keys {
		clean, ok := NormalizePath(p)
		if !ok {
			continue
		}
		prev, seen := chosen[clean]
		if seen && (prev == clean || p != clean) {
			continue
		}
		chosen[clean] = p
		out[clean] = files[p]
	}
	return out
}

// ApplyResult merges a project result onto baseline. Any other result
// variant leaves a copy of baseline.
func ApplyResult(baseline domain.ProjectTree, res domain.GenerationResult) domain.ProjectTree {
	pr, ok := res.(*domain.ProjectResult)
	if !ok || pr == nil {
		return baseline.Clone()
	}
	return Apply(baseline, pr.Files)
}

// NormalizePath cleans p into the rooted form used as a tree key, for
// example "src/App.js" becomes "/src/App.js". It reports false for empty
// paths, paths containing NUL, and paths with ".." segments.
func NormalizePath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || strings.ContainsRune(p, 0) {
		return "", false
	}
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", false
	}
	return clean, true
}

// Fingerprint hashes a tree's paths and contents in path order. Equal
// trees have equal fingerprints.
func Fingerprint(tree domain.ProjectTree) uint64 {
	h := xxh3.New()
	for _, p := range tree.Paths() {
		h.WriteString(p)
		h.Write([]byte{0})
		h.WriteString(tree[p].Code)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
