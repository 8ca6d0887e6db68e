package session

import (
	"time"

	"github.com/joss/buildlab/internal/domain"
)

// Notification is what the user sees after a submit is refused, a call
// fails, or a turn is appended. Kind is KindNone for a successful turn.
type Notification struct {
	Kind    domain.ErrorKind
	Message string
	Query   string
	Err     error
	Turn    *domain.Turn
	At      time.Time
}

// Failed reports whether the notification describes an error.
func (n Notification) Failed() bool {
	return n.Kind != domain.KindNone
}

// Message texts shown to the user, one per error kind.
const (
	MessageEmptyQuery           = "Please enter a query."
	MessageConcurrentSubmission = "A request is already in progress."
	MessageGenerationFailed     = "Failed to fetch results. Please try again."
	MessageMalformedResponse    = "The model returned an unexpected response. Please try again."
	MessageTurnAppended         = "Response received."
)

// MessageFor returns the user-facing text for kind.
func MessageFor(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindEmptyQuery:
		return MessageEmptyQuery
	case domain.KindConcurrentSubmission:
		return MessageConcurrentSubmission
	case domain.KindMalformedResponse:
		return MessageMalformedResponse
	case domain.KindNone:
		return MessageTurnAppended
	default:
		return MessageGenerationFailed
	}
}

func newNotification(err error, query string, at time.Time) Notification {
	kind := domain.Classify(err)
	return Notification{
		Kind:    kind,
		Message: MessageFor(kind),
		Query:   query,
		Err:     err,
		At:      at,
	}
}

func turnNotification(turn domain.Turn) Notification {
	return Notification{
		Kind:    domain.KindNone,
		Message: MessageFor(domain.KindNone),
		Query:   turn.Query,
		Turn:    &turn,
		At:      turn.CreatedAt,
	}
}
