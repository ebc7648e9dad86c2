package store

import (
	"context"
	"fmt"
	"time"

	"xdigest/pkg/models"
)

// AddPosts archives posts for profileID. A post already archived (same url
// and creation time) is skipped. It returns the number of new rows.
func (s *Store) AddPosts(ctx context.Context, profileID int64, posts []models.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.inTx(ctx, func(q querier) error {
		insert := s.rebind("INSERT INTO posts (profile_id, content, post_url, created_at, retrieved_at) VALUES (?, ?, ?, ?, ?) " +
			"ON CONFLICT (profile_id, post_url, created_at) DO NOTHING")
		for _, p := range posts {
			retrieved := p.RetrievedAt
			if retrieved.IsZero() {
				retrieved = s.now()
			}
			res, err := q.ExecContext(ctx, insert, profileID, p.Body, p.URL, toMillis(p.CreatedAt), toMillis(retrieved))
			if err != nil {
				return fmt.Errorf("failed to archive post: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RecentPosts returns profileID's archived posts created at or after since,
// oldest first
func (s *Store) RecentPosts(ctx context.Context, profileID int64, since time.Time) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT p.content, p.post_url, p.created_at, p.retrieved_at, pr.handle FROM posts p "+
			"JOIN profiles pr ON pr.id = p.profile_id "+
			"WHERE p.profile_id = ? AND p.created_at >= ? ORDER BY p.created_at, p.id"),
		profileID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list posts of %d: %w", profileID, err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0)
	for rows.Next() {
		var (
			p                  models.Post
			created, retrieved int64
		)
		if err := rows.Scan(&p.Body, &p.URL, &created, &retrieved, &p.Handle); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		p.CreatedAt = fromMillis(created)
		p.RetrievedAt = fromMillis(retrieved)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
