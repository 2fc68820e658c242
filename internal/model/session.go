package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a ULID for a session or navigation. IDs minted later sort
// after earlier ones, which the store relies on to break created_at ties.
func NewID() string {
	return ulid.Make().String()
}

// Session status constants.
const (
	SessionOpen      = "open"
	SessionExited    = "exited"
	SessionAbandoned = "abandoned"
)

// Navigation kind constants. The kind decides which Content command a
// LoadURL is translated into.
const (
	KindParse   = "parse"
	KindExecute = "execute"
)

// validTransitions maps each session status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	SessionOpen: {
		SessionExited:    true,
		SessionAbandoned: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Session is a browser-chrome client attached to the engine. It owns at most
// one live protocol endpoint at a time.
type Session struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Navigations int        `json:"navigations"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Navigation records a single LoadURL accepted by the engine.
type Navigation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
