// Package scaffold provides the baseline project tree that every generated
// project is merged on top of.
package scaffold

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/merge"
)

//go:embed templates/react.yaml
var reactManifest []byte

// DefaultPatterns selects source files when importing a directory.
var DefaultPatterns = []string{"**/*.{js,jsx,ts,tsx,css,html}"}

const maxFileSize = 1 << 20

// Baseline is a named starting tree plus the packages generated code may
// import.
type Baseline struct {
	Name         string
	Files        domain.ProjectTree
	Dependencies map[string]string
}

type manifest struct {
	Name         string            `yaml:"name"`
	Dependencies map[string]string `yaml:"dependencies"`
	Files        map[string]string `yaml:"files"`
}

// Default returns the built-in React scaffold.
func Default() *Baseline {
	b, err := Parse(reactManifest)
	if err != nil {
		panic(fmt.Sprintf("scaffold: embedded manifest: %v", err))
	}
	return b
}

// Parse decodes a YAML manifest.
func Parse(data []byte) (*Baseline, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Files) == 0 {
		return nil, errors.New("parse manifest: no files")
	}

	b := &Baseline{
		Name:         m.Name,
		Files:        make(domain.ProjectTree, len(m.Files)),
		Dependencies: m.Dependencies,
	}
	if b.Dependencies == nil {
		b.Dependencies = map[string]string{}
	}
	for p, code := range m.Files {
		clean, ok := merge.NormalizePath(p)
		if !ok {
			return nil, fmt.Errorf("parse manifest: invalid path %q", p)
		}
		b.Files[clean] = domain.FileEntry{Code: code}
	}
	return b, nil
}

// Load reads a YAML manifest from path.
func Load(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return b, nil
}

// FromDir builds a baseline from the files under root that match any of
// patterns (DefaultPatterns if none). node_modules is skipped. If root
// has a package.json its dependencies become the baseline's.
func FromDir(root string, patterns ...string) (*Baseline, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	b := &Baseline{
		Name:         filepath.Base(root),
		Files:        domain.ProjectTree{},
		Dependencies: map[string]string{},
	}

	fsys := os.DirFS(root)
	for _, pattern := range patterns {
		err := doublestar.GlobWalk(fsys, pattern, func(p string, d fs.DirEntry) error {
			if d.IsDir() || strings.Contains("/"+p+"/", "/node_modules/") {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.Size() > maxFileSize {
				return nil
			}
			data, err := fs.ReadFile(fsys, p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			if clean, ok := merge.NormalizePath(p); ok {
				b.Files[clean] = domain.FileEntry{Code: string(data)}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
	}
	if len(b.Files) == 0 {
		return nil, fmt.Errorf("no files under %s match %v", root, patterns)
	}

	if data, err := os.ReadFile(filepath.Join(root, "package.json")); err == nil {
		var pkg struct {
			Dependencies map[string]string `json:"dependencies"`
		}
		if err := json.Unmarshal(data, &pkg); err != nil {
			return nil, fmt.Errorf("parse package.json: %w", err)
		}
		for name, version := range pkg.Dependencies {
			b.Dependencies[name] = version
		}
	}
	return b, nil
}

// Tree returns a copy of the baseline files.
func (b *Baseline) Tree() domain.ProjectTree {
	return b.Files.Clone()
}

// DependencyNames returns the declared package names, sorted.
func (b *Baseline) DependencyNames() []string {
	names := make([]string, 0, len(b.Dependencies))
	for name := range b.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
