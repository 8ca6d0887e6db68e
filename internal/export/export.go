// Package export writes turns and generated files to disk.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/merge"
)

// ErrUnsafePath is returned for a file path that would land outside the
// target directory.
var ErrUnsafePath = errors.New("path escapes export directory")

const maxFilenameLen = 80

// MarshalTurn renders turn as indented JSON:
// {query, response{mode, ...}, latencyMs, timestamp}.
func MarshalTurn(turn domain.Turn) ([]byte, error) {
	data, err := json.MarshalIndent(turn, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal turn: %w", err)
	}
	return data, nil
}

// UnmarshalTurn is the inverse of MarshalTurn.
func UnmarshalTurn(data []byte) (domain.Turn, error) {
	var turn domain.Turn
	if err := json.Unmarshal(data, &turn); err != nil {
		return domain.Turn{}, fmt.Errorf("unmarshal turn: %w", err)
	}
	return turn, nil
}

// TurnFilename derives a file name from a query. Characters outside
// letters, digits, dash and underscore collapse to a single dash.
func TurnFilename(query string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(query)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimRight(b.String(), "-")
	if len(name) > maxFilenameLen {
		name = strings.TrimRight(truncate(name, maxFilenameLen), "-")
	}
	if name == "" {
		name = "turn"
	}
	return name + ".json"
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	for len(s) > n {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}

// WriteTurn writes turn as JSON into dir and returns the file path.
func WriteTurn(dir string, turn domain.Turn) (string, error) {
	data, err := MarshalTurn(turn)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, TurnFilename(turn.Query))
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile writes one generated file under dir. name is a tree path such
// as "/src/App.js".
func WriteFile(dir, name, content string) (string, error) {
	path, err := resolve(dir, name)
	if err != nil {
		return "", err
	}
	if err := writeFile(path, []byte(content)); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTree writes every file of tree under dir. Nothing is written if any
// path is unsafe.
func WriteTree(dir string, tree domain.ProjectTree) ([]string, error) {
	paths := tree.Paths()
	targets := make([]string, 0, len(paths))
	for _, p := range paths {
		target, err := resolve(dir, p)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}

	for i, p := range paths {
		if err := writeFile(targets[i], []byte(tree[p].Code)); err != nil {
			return targets[:i], err
		}
	}
	return targets, nil
}

func resolve(dir, name string) (string, error) {
	clean, ok := merge.NormalizePath(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve export dir: %w", err)
	}
	target := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
