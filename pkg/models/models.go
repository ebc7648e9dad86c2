package models

import "time"

// Profile is a tracked account on the social platform. Handle is unique and is
// the join key between scrape results and stored records.
type Profile struct {
	ID          int64
	Handle      string
	DisplayName string
	// ExternalID is 0 until a scrape reports the platform's numeric id
	ExternalID     int64
	FollowersCount *int64
	LastChecked    *time.Time
}

// FollowedAccount is one account in a follow set, as returned by the provider
// or materialized from the store.
type FollowedAccount struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	ExternalID  int64  `json:"external_id,omitempty"`
}

// FollowEdge is a directed profile -> followed profile relation
type FollowEdge struct {
	ProfileID int64
	FriendID  int64
}

// Post is a scraped content item
type Post struct {
	Handle      string    `json:"handle"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Timestamp returns the post's creation time
func (p Post) Timestamp() time.Time {
	return p.CreatedAt
}

// Source tells where a follow set came from
type Source string

const (
	SourceCache  Source = "cache"
	SourceScrape Source = "scrape"
)

// Session is one search run for a profile by a user
type Session struct {
	ID         int64
	UserID     string
	ProfileID  int64
	Handle     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string
}

// DailyCount is the number of requests a user made on one UTC day
type DailyCount struct {
	Day   time.Time
	Count int
}
