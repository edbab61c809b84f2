// Package session persists WhatsApp credential fragments. Fragments live in
// Postgres keyed by session and fragment name, and are mirrored into a local
// cache directory that the transport reads during authentication.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable marks durable-store connectivity failures. Callers
// degrade to "no prior session" instead of crashing.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Fragment is a single named piece of credential state.
type Fragment struct {
	Name    string
	Content []byte
}

// Querier is the slice of pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads and writes session fragments.
type Store struct {
	db       Querier
	cacheDir string
	logger   *slog.Logger
}

// NewStore creates a fragment store backed by db, mirroring into cacheDir.
func NewStore(log *slog.Logger, db Querier, cacheDir string) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:       db,
		cacheDir: cacheDir,
		logger:   log.With(slog.String("service", "session")),
	}
}

// CacheDir returns the local cache directory the transport authenticates from.
func (s *Store) CacheDir() string {
	return s.cacheDir
}

// Restore loads all persisted fragments for the session into the cache
// directory and reports how many were restored. Zero means no prior session
// and the caller should expect a fresh enrollment. Each fragment is written
// via a temp file and rename so the transport never reads a half-written one.
func (s *Store) Restore(ctx context.Context, sessionKey string) (int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT file_name, content FROM session_fragments WHERE session_key = $1 ORDER BY file_name`,
		sessionKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.Name, &f.Content); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fragments) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(s.cacheDir, 0o700); err != nil {
		return 0, fmt.Errorf("create cache dir: %w", err)
	}
	for _, f := range fragments {
		if err := writeFragmentFile(s.cacheDir, f); err != nil {
			return 0, err
		}
	}
	s.logger.Info("session restored",
		slog.String("session_key", sessionKey),
		slog.Int("fragments", len(fragments)))
	return len(fragments), nil
}

// Persist mirrors fragments to the cache directory and upserts them by name.
func (s *Store) Persist(ctx context.Context, sessionKey string, fragments []Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.cacheDir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	for _, f := range fragments {
		if err := writeFragmentFile(s.cacheDir, f); err != nil {
			return err
		}
	}
	for _, f := range fragments {
		_, err := s.db.Exec(ctx,
			`INSERT INTO session_fragments (session_key, file_name, content, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (session_key, file_name) DO UPDATE
			 SET content = EXCLUDED.content, updated_at = now()`,
			sessionKey, f.Name, f.Content)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Clear deletes every fragment for the session and removes the cache
// directory recursively.
func (s *Store) Clear(ctx context.Context, sessionKey string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM session_fragments WHERE session_key = $1`, sessionKey); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := os.RemoveAll(s.cacheDir); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	s.logger.Info("session cleared", slog.String("session_key", sessionKey))
	return nil
}

func writeFragmentFile(dir string, f Fragment) error {
	target := filepath.Join(dir, filepath.Base(f.Name))
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, f.Content, 0o600); err != nil {
		return fmt.Errorf("write fragment %s: %w", f.Name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("write fragment %s: %w", f.Name, err)
	}
	return nil
}
