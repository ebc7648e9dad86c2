package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"xdigest/pkg/models"
)

const profileColumns = "id, handle, display_name, external_id, followers_count, last_checked"

func scanProfile(scan func(dest ...any) error) (models.Profile, error) {
	var (
		p         models.Profile
		followers sql.NullInt64
		checked   sql.NullInt64
	)
	if err := scan(&p.ID, &p.Handle, &p.DisplayName, &p.ExternalID, &followers, &checked); err != nil {
		return models.Profile{}, err
	}
	if followers.Valid {
		n := followers.Int64
		p.FollowersCount = &n
	}
	p.LastChecked = timePtr(checked)
	return p, nil
}

// ProfileByHandle looks up a profile by its normalized handle. It returns
// nil, nil when no profile has that handle.
func (s *Store) ProfileByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+profileColumns+" FROM profiles WHERE handle = ?"), handle)
	p, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %q: %w", handle, err)
	}
	return &p, nil
}

// ProfileByID looks up a profile by id; nil, nil when absent
func (s *Store) ProfileByID(ctx context.Context, id int64) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+profileColumns+" FROM profiles WHERE id = ?"), id)
	p, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %d: %w", id, err)
	}
	return &p, nil
}

// ProfilesByIDs returns the profiles with the given ids in the order of ids.
// Unknown ids are skipped.
func (s *Store) ProfilesByIDs(ctx context.Context, ids []int64) ([]models.Profile, error) {
	byID := make(map[int64]models.Profile, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := "SELECT " + profileColumns + " FROM profiles WHERE id IN (" + placeholders(len(chunk)) + ")"
		if err := s.collectProfiles(ctx, s.db, query, args, func(p models.Profile) { byID[p.ID] = p }); err != nil {
			return nil, err
		}
	}

	out := make([]models.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) collectProfiles(ctx context.Context, q querier, query string, args []any, fn func(models.Profile)) error {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return fmt.Errorf("failed to scan profile: %w", err)
		}
		fn(p)
	}
	return rows.Err()
}

// UpsertProfile inserts account if its handle is new and returns the stored
// row. A new profile without a known external id keeps the placeholder 0.
func (s *Store) UpsertProfile(ctx context.Context, account models.FollowedAccount) (*models.Profile, error) {
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO profiles (handle, display_name, external_id, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (handle) DO NOTHING"),
		account.Handle, account.DisplayName, account.ExternalID, toMillis(s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile %q: %w", account.Handle, err)
	}
	p, err := s.ProfileByHandle(ctx, account.Handle)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("profile %q missing after upsert", account.Handle)
	}
	return p, nil
}

// BulkUpsertProfiles makes sure every account exists as a profile and returns
// their ids in input order. Existing profiles keep their stored values; only
// missing ones are inserted, and conflicting concurrent inserts are absorbed
// by ON CONFLICT DO NOTHING. Calling it twice with the same input returns the
// same ids and writes nothing the second time.
func (s *Store) BulkUpsertProfiles(ctx context.Context, accounts []models.FollowedAccount) ([]int64, error) {
	if len(accounts) == 0 {
		return []int64{}, nil
	}
	ids := make(map[string]int64, len(accounts))

	unique := make([]models.FollowedAccount, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if a.Handle == "" {
			return nil, fmt.Errorf("profile with empty handle")
		}
		if _, dup := seen[a.Handle]; dup {
			continue
		}
		seen[a.Handle] = struct{}{}
		unique = append(unique, a)
	}

	err := s.inTx(ctx, func(q querier) error {
		if err := s.resolveHandles(ctx, q, unique, ids); err != nil {
			return err
		}

		missing := make([]models.FollowedAccount, 0)
		for _, a := range unique {
			if _, ok := ids[a.Handle]; !ok {
				missing = append(missing, a)
			}
		}
		if len(missing) == 0 {
			return nil
		}

		now := toMillis(s.now())
		for start := 0; start < len(missing); start += batchSize {
			chunk := missing[start:min(start+batchSize, len(missing))]
			values := make([]string, len(chunk))
			args := make([]any, 0, len(chunk)*4)
			for i, a := range chunk {
				values[i] = "(?, ?, ?, ?)"
				args = append(args, a.Handle, a.DisplayName, a.ExternalID, now)
			}
			query := "INSERT INTO profiles (handle, display_name, external_id, created_at) VALUES " +
				strings.Join(values, ", ") + " ON CONFLICT (handle) DO NOTHING"
			if _, err := q.ExecContext(ctx, s.rebind(query), args...); err != nil {
				return fmt.Errorf("failed to insert profiles: %w", err)
			}
		}

		return s.resolveHandles(ctx, q, missing, ids)
	})
	if err != nil {
		return nil, err
	}

	out := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		id, ok := ids[a.Handle]
		if !ok {
			return nil, fmt.Errorf("profile %q missing after upsert", a.Handle)
		}
		out = append(out, id)
	}

	s.logger.WithFields(map[string]interface{}{
		"accounts": len(unique),
	}).Debug("Profiles upserted")
	return out, nil
}

func (s *Store) resolveHandles(ctx context.Context, q querier, accounts []models.FollowedAccount, ids map[string]int64) error {
	for start := 0; start < len(accounts); start += batchSize {
		chunk := accounts[start:min(start+batchSize, len(accounts))]
		args := make([]any, len(chunk))
		for i, a := range chunk {
			args[i] = a.Handle
		}
		query := "SELECT " + profileColumns + " FROM profiles WHERE handle IN (" + placeholders(len(chunk)) + ")"
		if err := s.collectProfiles(ctx, q, query, args, func(p models.Profile) { ids[p.Handle] = p.ID }); err != nil {
			return err
		}
	}
	return nil
}

// TouchLastChecked stamps a profile's last_checked column
func (s *Store) TouchLastChecked(ctx context.Context, profileID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind("UPDATE profiles SET last_checked = ? WHERE id = ?"), toMillis(at), profileID)
	if err != nil {
		return fmt.Errorf("failed to touch profile %d: %w", profileID, err)
	}
	return nil
}
