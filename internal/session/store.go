package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"studymatch/pkg/domain"
)

// Store persists the signed-in actor's credential and identity between runs.
// It holds at most one slot; signing in overwrites it, signing out clears it.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed initializes) the session database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	schema := `CREATE TABLE IF NOT EXISTS session (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		token TEXT NOT NULL,
		actor_json TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists the credential and actor record, replacing any prior slot.
func (s *Store) Save(ctx context.Context, token string, actor domain.User) error {
	encoded, err := json.Marshal(actor)
	if err != nil {
		return fmt.Errorf("encode actor: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO session (slot, token, actor_json, updated_at)
		VALUES (1, ?, ?, datetime('now'))
		ON CONFLICT (slot) DO UPDATE SET token = excluded.token,
			actor_json = excluded.actor_json, updated_at = excluded.updated_at`,
		token, string(encoded))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the persisted credential and actor. ok is false when no
// session has been saved.
func (s *Store) Load(ctx context.Context) (token string, actor domain.User, ok bool, err error) {
	var actorJSON string
	row := s.db.QueryRowContext(ctx, `SELECT token, actor_json FROM session WHERE slot = 1`)
	if err := row.Scan(&token, &actorJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.User{}, false, nil
		}
		return "", domain.User{}, false, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal([]byte(actorJSON), &actor); err != nil {
		return "", domain.User{}, false, fmt.Errorf("decode actor: %w", err)
	}
	return token, actor, true, nil
}

// Clear removes the persisted session.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE slot = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
