package store

import (
	"context"
	"fmt"
	"time"

	"xdigest/pkg/models"
)

// AppendRequest records one admitted request for userID
func (s *Store) AppendRequest(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO request_records (user_id, requested_at) VALUES (?, ?)"), userID, toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to record request for %q: %w", userID, err)
	}
	return nil
}

// CountRequestsSince counts userID's requests at or after since
func (s *Store) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM request_records WHERE user_id = ? AND requested_at >= ?"),
		userID, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests for %q: %w", userID, err)
	}
	return n, nil
}

// ReserveRequest counts and appends in one transaction. On postgres a
// transaction-scoped advisory lock keyed by user serializes concurrent
// reservations; SQLite runs on a single connection, so its transactions are
// already serial.
func (s *Store) ReserveRequest(ctx context.Context, userID string, since, at time.Time, limit int) (int, bool, error) {
	var (
		used     int
		reserved bool
	)
	err := s.inTx(ctx, func(q querier) error {
		if s.driver == DriverPostgres {
			if _, err := q.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "request_records:"+userID); err != nil {
				return fmt.Errorf("failed to lock requests for %q: %w", userID, err)
			}
		}

		err := q.QueryRowContext(ctx,
			s.rebind("SELECT COUNT(*) FROM request_records WHERE user_id = ? AND requested_at >= ?"),
			userID, toMillis(since)).Scan(&used)
		if err != nil {
			return fmt.Errorf("failed to count requests for %q: %w", userID, err)
		}
		if limit > 0 && used >= limit {
			return nil
		}

		_, err = q.ExecContext(ctx,
			s.rebind("INSERT INTO request_records (user_id, requested_at) VALUES (?, ?)"), userID, toMillis(at))
		if err != nil {
			return fmt.Errorf("failed to record request for %q: %w", userID, err)
		}
		reserved = true
		if !at.Before(since) {
			used++
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return used, reserved, nil
}

// RequestsByDay returns userID's request counts for the last days UTC days,
// oldest first, ending with the day containing now. Days without requests
// are reported with a zero count.
func (s *Store) RequestsByDay(ctx context.Context, userID string, days int) ([]models.DailyCount, error) {
	if days <= 0 {
		return []models.DailyCount{}, nil
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := today.AddDate(0, 0, -(days - 1))

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT requested_at FROM request_records WHERE user_id = ? AND requested_at >= ?"),
		userID, toMillis(first))
	if err != nil {
		return nil, fmt.Errorf("failed to list requests for %q: %w", userID, err)
	}
	defer rows.Close()

	counts := make([]models.DailyCount, days)
	for i := range counts {
		counts[i].Day = first.AddDate(0, 0, i)
	}
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		idx := int(fromMillis(ms).Sub(first) / (24 * time.Hour))
		if idx >= 0 && idx < days {
			counts[idx].Count++
		}
	}
	return counts, rows.Err()
}
