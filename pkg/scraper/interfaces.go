package scraper

import (
	"context"
	"time"

	"xdigest/pkg/models"
)

// FollowStore is the part of the relationship store the resolver uses
type FollowStore interface {
	ProfileByHandle(ctx context.Context, handle string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, account models.FollowedAccount) (*models.Profile, error)
	BulkUpsertProfiles(ctx context.Context, accounts []models.FollowedAccount) ([]int64, error)
	AddEdges(ctx context.Context, sourceID int64, targetIDs []int64) (int, error)
	FollowSet(ctx context.Context, sourceID int64) ([]models.FollowedAccount, error)
	TouchLastChecked(ctx context.Context, profileID int64, at time.Time) error
}

// Archive records sessions and keeps the posts that made it into a digest
type Archive interface {
	StartSession(ctx context.Context, userID string, profileID int64, handle string, at time.Time) (int64, error)
	FinishSession(ctx context.Context, sessionID int64, outcome string, at time.Time) error
	BulkUpsertProfiles(ctx context.Context, accounts []models.FollowedAccount) ([]int64, error)
	AddPosts(ctx context.Context, profileID int64, posts []models.Post) (int, error)
}

// DigestWriter persists a digest and returns where it was written
type DigestWriter interface {
	Write(posts []models.Post) (string, error)
}
