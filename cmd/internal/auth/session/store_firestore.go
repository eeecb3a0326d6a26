package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"docrelay/cmd/internal/auth/identity"
)

// DefaultFirestoreCollection holds one document per session key.
const DefaultFirestoreCollection = "docrelay_sessions"

// FirestoreStore implements Store on a Cloud Firestore collection.
//
// The client is owned by the caller. Watch uses a realtime listener on the
// session document.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	log        *slog.Logger
}

// NewFirestoreStore constructs a Firestore-backed Store. An empty collection
// selects DefaultFirestoreCollection.
func NewFirestoreStore(client *firestore.Client, collection string, log *slog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("session: nil firestore client")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = DefaultFirestoreCollection
	}
	if log == nil {
		log = slog.Default()
	}
	return &FirestoreStore{client: client, collection: collection, log: log}, nil
}

type firestoreSnapshot struct {
	Status           string     `firestore:"status"`
	UserEmail        string     `firestore:"user_email,omitempty"`
	UserName         string     `firestore:"user_name,omitempty"`
	TokenFingerprint string     `firestore:"token_fingerprint"`
	LastValidatedAt  *time.Time `firestore:"last_validated_at,omitempty"`
	Version          int64      `firestore:"version"`
	UpdatedAt        time.Time  `firestore:"updated_at"`
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}

func toFirestore(snap Snapshot) firestoreSnapshot {
	d := firestoreSnapshot{
		Status:           string(snap.Status),
		TokenFingerprint: snap.TokenFingerprint,
		Version:          snap.Version,
		UpdatedAt:        snap.UpdatedAt.UTC(),
	}
	if snap.User != nil {
		d.UserEmail, d.UserName = snap.User.Email, snap.User.Name
	}
	if !snap.LastValidatedAt.IsZero() {
		v := snap.LastValidatedAt.UTC()
		d.LastValidatedAt = &v
	}
	return d
}

func fromFirestore(key string, ds *firestore.DocumentSnapshot) (Snapshot, error) {
	var d firestoreSnapshot
	if err := ds.DataTo(&d); err != nil {
		return Snapshot{}, fmt.Errorf("firestore decode session: %w", err)
	}
	snap := Snapshot{
		Key:              key,
		Status:           Status(d.Status),
		TokenFingerprint: d.TokenFingerprint,
		Version:          d.Version,
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	if d.UserEmail != "" {
		snap.User = &identity.User{Email: d.UserEmail, Name: d.UserName}
	}
	if d.LastValidatedAt != nil {
		snap.LastValidatedAt = d.LastValidatedAt.UTC()
	}
	return snap, nil
}

// Load returns the snapshot stored under key.
func (s *FirestoreStore) Load(ctx context.Context, key string) (Snapshot, error) {
	ds, err := s.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("firestore load session: %w", err)
	}
	return fromFirestore(key, ds)
}

// Save writes snap inside a transaction that rejects non-increasing versions.
func (s *FirestoreStore) Save(ctx context.Context, snap Snapshot) error {
	if !snap.Status.Valid() {
		return fmt.Errorf("session: invalid status %q", snap.Status)
	}
	ref := s.doc(snap.Key)
	data := toFirestore(snap)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ds, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			cur, err := ds.DataAt("version")
			if err != nil {
				return err
			}
			if v, ok := cur.(int64); ok && snap.Version <= v {
				return ErrStaleSnapshot
			}
		}
		return tx.Set(ref, data)
	})
	if errors.Is(err, ErrStaleSnapshot) {
		return ErrStaleSnapshot
	}
	if err != nil {
		return fmt.Errorf("firestore save session: %w", err)
	}
	return nil
}

// Watch streams the session document through a realtime listener.
func (s *FirestoreStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	it := s.doc(key).Snapshots(ctx)

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer it.Stop()

		for {
			ds, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					s.log.Warn("session.store.watch_failed", "err", err)
				}
				return
			}
			if !ds.Exists() {
				continue
			}
			snap, err := fromFirestore(key, ds)
			if err != nil {
				s.log.Warn("session.store.watch_decode_failed", "err", err)
				continue
			}
			offerLatest(out, snap)
		}
	}()
	return out, nil
}

// Ping reads a document that need not exist.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.collection).Doc("_ping").Get(ctx)
	if err == nil || status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}
