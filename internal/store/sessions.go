package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"xdigest/pkg/models"
)

// StartSession opens a search session and returns its id. profileID may be 0
// when the searched handle has no profile yet.
func (s *Store) StartSession(ctx context.Context, userID string, profileID int64, handle string, at time.Time) (int64, error) {
	var pid sql.NullInt64
	if profileID > 0 {
		pid = sql.NullInt64{Int64: profileID, Valid: true}
	}

	query := "INSERT INTO search_sessions (user_id, profile_id, handle, started_at) VALUES (?, ?, ?, ?)"
	args := []any{userID, pid, handle, toMillis(at)}

	if s.driver == DriverPostgres {
		// lib/pq does not implement LastInsertId
		var id int64
		if err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to start session: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read session id: %w", err)
	}
	return id, nil
}

// FinishSession closes a session with its outcome
func (s *Store) FinishSession(ctx context.Context, sessionID int64, outcome string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE search_sessions SET finished_at = ?, outcome = ? WHERE id = ?"),
		toMillis(at), outcome, sessionID)
	if err != nil {
		return fmt.Errorf("failed to finish session %d: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %d does not exist", sessionID)
	}
	return nil
}

// Session loads a session by id; nil, nil when absent
func (s *Store) Session(ctx context.Context, sessionID int64) (*models.Session, error) {
	var (
		sess     models.Session
		pid      sql.NullInt64
		started  int64
		finished sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, user_id, profile_id, handle, started_at, finished_at, outcome FROM search_sessions WHERE id = ?"),
		sessionID).Scan(&sess.ID, &sess.UserID, &pid, &sess.Handle, &started, &finished, &sess.Outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %d: %w", sessionID, err)
	}
	sess.ProfileID = pid.Int64
	sess.StartedAt = fromMillis(started)
	sess.FinishedAt = timePtr(finished)
	return &sess, nil
}
