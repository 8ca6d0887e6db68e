// Package parse decodes and validates raw model output into a typed
// domain.GenerationResult.
package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joss/buildlab/internal/domain"
)

// Parse decodes raw as the result variant for mode. On any decode or
// validation failure it returns a *domain.MalformedError and a nil result.
// Malformed elements inside collections are dropped rather than failing
// the whole response.
func Parse(raw string, mode domain.Mode) (domain.GenerationResult, error) {
	obj, err := decodeObject(raw, mode)
	if err != nil {
		return nil, err
	}

	switch mode {
	case domain.ModeProject:
		return parseProject(obj)
	case domain.ModeAnswer:
		return parseAnswer(obj)
	default:
		return nil, &domain.MalformedError{Mode: mode, Reason: "unknown mode"}
	}
}

func decodeObject(raw string, mode domain.Mode) (map[string]json.RawMessage, error) {
	text := stripFence(raw)
	if text == "" {
		return nil, &domain.MalformedError{Mode: mode, Reason: "empty body"}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, &domain.MalformedError{Mode: mode, Reason: "decode", Cause: err}
	}
	if obj == nil {
		return nil, &domain.MalformedError{Mode: mode, Reason: "top level is not an object"}
	}
	if strings.TrimSpace(text[dec.InputOffset():]) != "" {
		return nil, &domain.MalformedError{Mode: mode, Reason: "trailing data after JSON object"}
	}
	return obj, nil
}

// stripFence removes a surrounding markdown code fence, which some models
// add even when asked for bare JSON.
func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		return ""
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func parseProject(obj map[string]json.RawMessage) (domain.GenerationResult, error) {
	const mode = domain.ModeProject
	res := &domain.ProjectResult{}

	var err error
	if res.Explanation, err = requiredString(obj, "explanation", mode); err != nil {
		return nil, err
	}
	if res.ProjectTitle, err = optionalString(obj, "projectTitle", mode); err != nil {
		return nil, err
	}
	if res.Files, err = projectFiles(obj, mode); err != nil {
		return nil, err
	}
	if res.GeneratedFiles, err = stringList(obj, "generatedFiles", mode); err != nil {
		return nil, err
	}

	res.Normalize()
	return res, nil
}

func parseAnswer(obj map[string]json.RawMessage) (domain.GenerationResult, error) {
	const mode = domain.ModeAnswer
	res := &domain.AnswerResult{}

	var err error
	if res.Text, err = requiredString(obj, "text", mode); err != nil {
		return nil, err
	}
	if res.Resources, err = stringList(obj, "resources", mode); err != nil {
		return nil, err
	}
	if res.Files, err = answerFiles(obj, mode); err != nil {
		return nil, err
	}

	res.Normalize()
	return res, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func requiredString(obj map[string]json.RawMessage, key string, mode domain.Mode) (string, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", &domain.MalformedError{Mode: mode, Reason: fmt.Sprintf("missing required field %q", key)}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &domain.MalformedError{Mode: mode, Reason: fmt.Sprintf("field %q is not a string", key), Cause: err}
	}
	if strings.TrimSpace(s) == "" {
		return "", &domain.MalformedError{Mode: mode, Reason: fmt.Sprintf("required field %q is empty", key)}
	}
	return s, nil
}

func optionalString(obj map[string]json.RawMessage, key string, mode domain.Mode) (string, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &domain.MalformedError{Mode: mode, Reason: fmt.Sprintf("field %q is not a string", key), Cause: err}
	}
	return s, nil
}

// stringList decodes an optional array, keeping only string elements.
func stringList(obj map[string]json.RawMessage, key string, mode domain.Mode) ([]string, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &domain.MalformedError{Mode: mode, Reason: fmt.Sprintf("field %q is not an array", key), Cause: err}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// projectFiles decodes the files mapping, keeping only {code: string} entries.
func projectFiles(obj map[string]json.RawMessage, mode domain.Mode) (map[string]domain.FileEntry, error) {
	raw, ok := obj["files"]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &domain.MalformedError{Mode: mode, Reason: `field "files" is not an object`, Cause: err}
	}
	files := make(map[string]domain.FileEntry, len(entries))
	for path, entryRaw := range entries {
		var entry struct {
			Code *string `json:"code"`
		}
		if json.Unmarshal(entryRaw, &entry) != nil || entry.Code == nil {
			continue
		}
		files[path] = domain.FileEntry{Code: *entry.Code}
	}
	return files, nil
}

// answerFiles decodes the answer's file list, keeping entries whose name
// and content are both strings.
func answerFiles(obj map[string]json.RawMessage, mode domain.Mode) ([]domain.AnswerFile, error) {
	raw, ok := obj["files"]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &domain.MalformedError{Mode: mode, Reason: `field "files" is not an array`, Cause: err}
	}
	files := make([]domain.AnswerFile, 0, len(items))
	for _, item := range items {
		var f struct {
			Name    *string `json:"name"`
			Content *string `json:"content"`
		}
		if json.Unmarshal(item, &f) != nil || f.Name == nil || f.Content == nil {
			continue
		}
		files = append(files, domain.AnswerFile{Name: *f.Name, Content: *f.Content})
	}
	return files, nil
}
