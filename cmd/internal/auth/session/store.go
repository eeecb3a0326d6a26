package session

import (
	"context"
	"time"

	"docrelay/cmd/internal/auth/identity"
)

// Status is the authentication status of the session.
type Status string

const (
	// StatusSignedOut means no credential is held.
	StatusSignedOut Status = "SignedOut"
	// StatusAuthenticating means a first acquisition is in flight.
	StatusAuthenticating Status = "Authenticating"
	// StatusSignedIn means a validated credential and its user are held.
	StatusSignedIn Status = "SignedIn"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSignedOut, StatusAuthenticating, StatusSignedIn:
		return true
	default:
		return false
	}
}

// Session is the in-memory authentication state owned by Service.
//
// User is non-nil exactly when Status is StatusSignedIn. Token is empty
// outside StatusSignedIn and may be empty right after Restore until the
// startup revalidation re-acquires it.
type Session struct {
	Status          Status
	Token           string
	User            *identity.User
	LastValidatedAt time.Time
}

// Snapshot is the persisted, observable view of a Session.
type Snapshot struct {
	Key              string
	Status           Status
	User             *identity.User
	TokenFingerprint string
	LastValidatedAt  time.Time
	Version          int64
	UpdatedAt        time.Time
}

// Store abstracts durable storage of the session snapshot.
//
// Save must reject a snapshot whose Version is not greater than the stored
// one with ErrStaleSnapshot. Watch delivers the current snapshot, if any,
// and every later one; consumers only need the latest value, so
// implementations may coalesce intermediate versions. The channel is closed
// when ctx ends.
type Store interface {
	// Load returns the snapshot stored under key or ErrSnapshotNotFound.
	Load(ctx context.Context, key string) (Snapshot, error)

	// Save writes snap under snap.Key.
	Save(ctx context.Context, snap Snapshot) error

	// Watch subscribes to changes of the snapshot stored under key.
	Watch(ctx context.Context, key string) (<-chan Snapshot, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
