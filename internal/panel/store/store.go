// Package store persists panel browser sessions in SQLite. Only the rotated
// refresh token survives a restart, sealed at rest; access tokens are always
// re-minted by the identity service.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound reports a missing browser session row.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession returns the sealed refresh token for a browser session.
func (s *Store) GetSession(ctx context.Context, sid string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT refresh_token FROM panel_sessions WHERE sid = ?`, sid,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// PutSession upserts the sealed refresh token for a browser session.
func (s *Store) PutSession(ctx context.Context, sid string, sealed []byte, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO panel_sessions (sid, refresh_token, email, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (sid) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			email = excluded.email,
			updated_at = CURRENT_TIMESTAMP`,
		sid, sealed, email,
	)
	return err
}

// DeleteSession removes a browser session row. Deleting a missing row is not
// an error.
func (s *Store) DeleteSession(ctx context.Context, sid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM panel_sessions WHERE sid = ?`, sid)
	return err
}

// DeleteSessionsIdleSince removes rows not touched since the cutoff and
// returns how many were swept.
func (s *Store) DeleteSessionsIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM panel_sessions WHERE updated_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
