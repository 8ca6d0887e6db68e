package domain

import (
	"strings"
	"time"
)

// Project is the persisted record behind a live editing session. Tree and
// Turns are the stored counterparts of a session's project tree and history.
type Project struct {
	ID          string
	Name        string
	Description string
	Owners      []string
	Tree        ProjectTree
	Turns       []Turn
	Chats       []ChatMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatMessage is a free-form note attached to a project by one of its owners.
type ChatMessage struct {
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeName trims and lowercases a project name. Project names are
// compared in this form.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
