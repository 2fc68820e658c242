package store

import (
	"context"
	"errors"

	"github.com/seantiz/ember/internal/model"
)

// ErrInvalidTransition is returned when a session status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Stats holds aggregate session and navigation counts.
type Stats struct {
	Sessions          int            `json:"sessions"`
	SessionsByStatus  map[string]int `json:"sessions_by_status"`
	Navigations       int            `json:"navigations"`
	NavigationsByKind map[string]int `json:"navigations_by_kind"`
}

// Store defines the persistence operations for the engine's session history.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*model.Session, int, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error
	AbandonOpenSessions(ctx context.Context, exceptID string) (int, error)
	CreateNavigation(ctx context.Context, n *model.Navigation) error
	GetNavigation(ctx context.Context, id string) (*model.Navigation, error)
	ListNavigations(ctx context.Context, sessionID string, limit, offset int) ([]*model.Navigation, int, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
