// Package session keeps per-browser workflow state between steps.
//
// Each browser session owns exactly one models.UploadSession snapshot keyed by
// an opaque session id. Stores hand out copies: a snapshot read at one step is
// unchanged at later steps until it is explicitly replaced with Set or removed
// with Clear. Entries expire after a TTL; an expired entry reads as ErrNotFound.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

var (
	// ErrNotFound is returned for unknown and expired sessions.
	ErrNotFound = errors.New("session: not found")

	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("session: store closed")
)

// Store defines the interface for workflow state persistence.
type Store interface {
	// Get returns a copy of the snapshot for id.
	Get(ctx context.Context, id string) (*models.UploadSession, error)

	// Set replaces the snapshot for id and refreshes its TTL.
	Set(ctx context.Context, id string, s *models.UploadSession) error

	// Clear removes the snapshot for id. Clearing a missing id is not an error.
	Clear(ctx context.Context, id string) error
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like one produced by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && id != ""
}
