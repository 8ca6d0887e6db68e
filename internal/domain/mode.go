// Package domain defines the core value types of a BuildLab session:
// turns, generation results, project trees and the error taxonomy.
package domain

import "fmt"

// Mode selects how a query is generated and which result variant it yields.
type Mode string

const (
	// ModeProject generates a multi-file project and merges it onto the baseline.
	ModeProject Mode = "project"
	// ModeAnswer answers a standalone question with text, links and snippets.
	ModeAnswer Mode = "answer"
)

// ParseMode converts a user-supplied string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeProject, "build", "":
		return ModeProject, nil
	case ModeAnswer, "ask":
		return ModeAnswer, nil
	default:
		return "", fmt.Errorf("unknown mode: %q", s)
	}
}

// UsesHistory reports whether prior turns are fed back into the prompt.
func (m Mode) UsesHistory() bool {
	return m == ModeProject
}

func (m Mode) String() string { return string(m) }
