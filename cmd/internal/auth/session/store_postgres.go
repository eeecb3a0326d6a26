package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docrelay/cmd/internal/auth/identity"
)

// NotifyChannel is the Postgres channel snapshot writes are announced on.
// The payload is the snapshot key.
const NotifyChannel = "docrelay_session"

// PostgresStore implements Store using PostgreSQL (docrelay.session_snapshots).
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Each Watch holds one pool connection in LISTEN for its lifetime.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	log    *slog.Logger

	reconnectDelay time.Duration
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "docrelay").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("session: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithStoreLogger sets the logger used by watch loops.
func WithStoreLogger(log *slog.Logger) PostgresOption {
	return func(s *PostgresStore) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:           pool,
		schema:         "docrelay",
		log:            slog.Default(),
		reconnectDelay: time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgIdent(s.schema, "session_snapshots") }

// EnsureSchema creates the schema and snapshot table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s (
  key               TEXT PRIMARY KEY,
  status            TEXT NOT NULL CHECK (status IN ('SignedOut', 'Authenticating', 'SignedIn')),
  user_email        TEXT NULL,
  user_name         TEXT NULL,
  token_fingerprint TEXT NOT NULL DEFAULT '',
  last_validated_at TIMESTAMPTZ NULL,
  version           BIGINT NOT NULL,
  updated_at        TIMESTAMPTZ NOT NULL
);`, pgx.Identifier{s.schema}.Sanitize(), s.table()))
	return err
}

// Load returns the snapshot stored under key.
func (s *PostgresStore) Load(ctx context.Context, key string) (Snapshot, error) {
	var (
		snap      Snapshot
		status    string
		email     *string
		name      *string
		validated *time.Time
	)

	err := s.pool.QueryRow(ctx, `
		SELECT key, status, user_email, user_name, token_fingerprint, last_validated_at, version, updated_at
		FROM `+s.table()+`
		WHERE key = $1
	`, key).Scan(
		&snap.Key,
		&status,
		&email,
		&name,
		&snap.TokenFingerprint,
		&validated,
		&snap.Version,
		&snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	snap.Status = Status(status)
	if email != nil {
		u := identity.User{Email: *email}
		if name != nil {
			u.Name = *name
		}
		snap.User = &u
	}
	if validated != nil {
		snap.LastValidatedAt = validated.UTC()
	}
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return snap, nil
}

// Save upserts snap and announces the write on NotifyChannel in the same
// transaction, so listeners only hear about committed versions.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	if !snap.Status.Valid() {
		return fmt.Errorf("session: invalid status %q", snap.Status)
	}

	var email, name *string
	if snap.User != nil {
		email, name = &snap.User.Email, &snap.User.Name
	}
	var validated *time.Time
	if !snap.LastValidatedAt.IsZero() {
		v := snap.LastValidatedAt.UTC()
		validated = &v
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO `+s.table()+` AS t (
			key, status, user_email, user_name, token_fingerprint,
			last_validated_at, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			status = EXCLUDED.status,
			user_email = EXCLUDED.user_email,
			user_name = EXCLUDED.user_name,
			token_fingerprint = EXCLUDED.token_fingerprint,
			last_validated_at = EXCLUDED.last_validated_at,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE t.version < EXCLUDED.version
	`, snap.Key, string(snap.Status), email, name, snap.TokenFingerprint, validated, snap.Version, snap.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleSnapshot
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, snap.Key); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Watch listens on NotifyChannel and reloads the snapshot for every
// notification about key. A lost connection is re-established after a
// short delay and the current snapshot is re-read, so no change is missed.
func (s *PostgresStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		for {
			s.pump(ctx, conn, key, out)
			if ctx.Err() != nil {
				return
			}

			conn = nil
			for conn == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.reconnectDelay):
				}
				c, err := s.listen(ctx)
				if err != nil {
					s.log.Warn("session.store.listen_failed", "err", err)
					continue
				}
				conn = c
			}
		}
	}()
	return out, nil
}

func (s *PostgresStore) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

// pump delivers snapshots until ctx ends or the connection fails.
func (s *PostgresStore) pump(ctx context.Context, conn *pgxpool.Conn, key string, out chan Snapshot) {
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := conn.Exec(uctx, "UNLISTEN *"); err != nil {
			// Drop the connection rather than return a listening one to the pool.
			_ = conn.Conn().Close(uctx)
		}
		conn.Release()
	}()

	s.deliver(ctx, key, out)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("session.store.listen_lost", "err", err)
			}
			return
		}
		if n.Payload != key {
			continue
		}
		s.deliver(ctx, key, out)
	}
}

func (s *PostgresStore) deliver(ctx context.Context, key string, out chan Snapshot) {
	snap, err := s.Load(ctx, key)
	if errors.Is(err, ErrSnapshotNotFound) {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("session.store.reload_failed", "err", err)
		}
		return
	}
	offerLatest(out, snap)
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
