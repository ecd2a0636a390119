package memory

import (
	"context"
	"strings"
)

// ProfileStore persists merged user profiles. Backends are pluggable; the
// merge policy does not depend on which one is wired in.
type ProfileStore interface {
	// Get returns the stored profile and whether one exists.
	Get(ctx context.Context, userID string) (Profile, bool, error)
	// Put stores the full merged profile for its user.
	Put(ctx context.Context, profile Profile) error
	Close() error
}

// NewProfileStore creates a postgres-backed store when configured,
// otherwise in-memory.
func NewProfileStore(ctx context.Context, databaseURL string) (ProfileStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryProfileStore(), nil
	}
	return NewPostgresProfileStore(ctx, databaseURL)
}
