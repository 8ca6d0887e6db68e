package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FileEntry is the content of a single file in a project tree.
type FileEntry struct {
	Code string `json:"code"`
}

// ProjectTree maps a file path to its content.
type ProjectTree map[string]FileEntry

// Clone returns an independent copy of the tree.
func (t ProjectTree) Clone() ProjectTree {
	out := make(ProjectTree, len(t))
	for path, entry := range t {
		out[path] = entry
	}
	return out
}

// Paths returns the tree's paths in lexical order.
func (t ProjectTree) Paths() []string {
	paths := make([]string, 0, len(t))
	for path := range t {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// GenerationResult is the parsed output of one model call. The concrete
// type is fixed by the Mode the call was made in: *ProjectResult or
// *AnswerResult.
type GenerationResult interface {
	// Mode reports which variant this is.
	Mode() Mode
	// Summary returns the primary explanatory field.
	Summary() string

	isGenerationResult()
}

// ProjectResult is produced by project mode.
type ProjectResult struct {
	ProjectTitle   string               `json:"projectTitle"`
	Explanation    string               `json:"explanation"`
	Files          map[string]FileEntry `json:"files"`
	GeneratedFiles []string             `json:"generatedFiles"`
}

func (*ProjectResult) Mode() Mode          { return ModeProject }
func (r *ProjectResult) Summary() string   { return r.Explanation }
func (*ProjectResult) isGenerationResult() {}

// AnswerFile is a named snippet attached to an answer.
type AnswerFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// AnswerResult is produced by answer mode.
type AnswerResult struct {
	Text      string       `json:"text"`
	Resources []string     `json:"resources"`
	Files     []AnswerFile `json:"files"`
}

func (*AnswerResult) Mode() Mode          { return ModeAnswer }
func (r *AnswerResult) Summary() string   { return r.Text }
func (*AnswerResult) isGenerationResult() {}

// Normalize replaces nil collections with empty ones so that equal
// results compare equal after a serialization round trip.
func (r *ProjectResult) Normalize() {
	if r.Files == nil {
		r.Files = map[string]FileEntry{}
	}
	if r.GeneratedFiles == nil {
		r.GeneratedFiles = []string{}
	}
}

// Normalize replaces nil collections with empty ones.
func (r *AnswerResult) Normalize() {
	if r.Resources == nil {
		r.Resources = []string{}
	}
	if r.Files == nil {
		r.Files = []AnswerFile{}
	}
}

type projectEnvelope struct {
	Mode Mode `json:"mode"`
	ProjectResult
}

type answerEnvelope struct {
	Mode Mode `json:"mode"`
	AnswerResult
}

// MarshalResult encodes a result as a mode-tagged JSON object.
func MarshalResult(r GenerationResult) ([]byte, error) {
	switch v := r.(type) {
	case *ProjectResult:
		return json.Marshal(projectEnvelope{Mode: ModeProject, ProjectResult: *v})
	case *AnswerResult:
		return json.Marshal(answerEnvelope{Mode: ModeAnswer, AnswerResult: *v})
	case nil:
		return nil, fmt.Errorf("marshal result: nil result")
	default:
		return nil, fmt.Errorf("marshal result: unsupported type %T", r)
	}
}

// UnmarshalResult decodes a mode-tagged JSON object produced by MarshalResult.
func UnmarshalResult(data []byte) (GenerationResult, error) {
	var tag struct {
		Mode Mode `json:"mode"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode result mode: %w", err)
	}

	switch tag.Mode {
	case ModeProject:
		var env projectEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode project result: %w", err)
		}
		res := env.ProjectResult
		res.Normalize()
		return &res, nil
	case ModeAnswer:
		var env answerEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode answer result: %w", err)
		}
		res := env.AnswerResult
		res.Normalize()
		return &res, nil
	default:
		return nil, fmt.Errorf("decode result: unknown mode %q", tag.Mode)
	}
}
