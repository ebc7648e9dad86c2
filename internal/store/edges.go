package store

import (
	"context"
	"database/sql"
	"fmt"

	"xdigest/pkg/models"
)

// AddEdges records source -> target for every target, in the given order.
// Self-edges and edges that already exist are skipped. It returns the number
// of edges inserted.
func (s *Store) AddEdges(ctx context.Context, sourceID int64, targetIDs []int64) (int, error) {
	if len(targetIDs) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.inTx(ctx, func(q querier) error {
		var maxPos sql.NullInt64
		err := q.QueryRowContext(ctx,
			s.rebind("SELECT MAX(position) FROM follow_edges WHERE profile_id = ?"), sourceID).Scan(&maxPos)
		if err != nil {
			return fmt.Errorf("failed to read edge positions: %w", err)
		}
		next := int64(0)
		if maxPos.Valid {
			next = maxPos.Int64 + 1
		}

		now := toMillis(s.now())
		insert := s.rebind("INSERT INTO follow_edges (profile_id, friend_id, position, created_at) VALUES (?, ?, ?, ?) " +
			"ON CONFLICT (profile_id, friend_id) DO NOTHING")
		for _, target := range targetIDs {
			if target == sourceID {
				continue
			}
			res, err := q.ExecContext(ctx, insert, sourceID, target, next, now)
			if err != nil {
				return fmt.Errorf("failed to insert edge %d->%d: %w", sourceID, target, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to count inserted edges: %w", err)
			}
			if n > 0 {
				inserted++
				next++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListEdges returns the ids followed by sourceID in insertion order
func (s *Store) ListEdges(ctx context.Context, sourceID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT friend_id FROM follow_edges WHERE profile_id = ? ORDER BY position, friend_id"), sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges of %d: %w", sourceID, err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FollowSet materializes the accounts followed by sourceID
func (s *Store) FollowSet(ctx context.Context, sourceID int64) ([]models.FollowedAccount, error) {
	ids, err := s.ListEdges(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.ProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	accounts := make([]models.FollowedAccount, 0, len(profiles))
	for _, p := range profiles {
		accounts = append(accounts, models.FollowedAccount{
			Handle:      p.Handle,
			DisplayName: p.DisplayName,
			ExternalID:  p.ExternalID,
		})
	}
	return accounts, nil
}
