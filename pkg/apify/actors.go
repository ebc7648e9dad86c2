package apify

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public Apify API host
	DefaultBaseURL = "https://api.apify.com"

	// FollowingActor lists the accounts a handle follows
	FollowingActor = "apidojo/twitter-user-scraper"

	// PostsActor fetches posts for a handle within a date range
	PostsActor = "apidojo/twitter-scraper-lite"

	// DateLayout is the format of the posts actor's start/end fields
	DateLayout = "2006-01-02"

	// ProfileURLPrefix builds the start URL for the posts actor
	ProfileURLPrefix = "https://x.com/"
)

// FollowingInput is the run input for FollowingActor
type FollowingInput struct {
	GetFollowers            bool     `json:"getFollowers"`
	GetFollowing            bool     `json:"getFollowing"`
	GetRetweeters           bool     `json:"getRetweeters"`
	IncludeUnavailableUsers bool     `json:"includeUnavailableUsers"`
	MaxItems                int      `json:"maxItems"`
	TwitterHandles          []string `json:"twitterHandles"`
}

// NewFollowingInput builds the input that returns who handle follows
func NewFollowingInput(handle string, maxItems int) FollowingInput {
	return FollowingInput{
		GetFollowing:   true,
		MaxItems:       maxItems,
		TwitterHandles: []string{handle},
	}
}

// PostsInput is the run input for PostsActor
type PostsInput struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	MaxItems  int      `json:"maxItems"`
	Sort      string   `json:"sort"`
	StartURLs []string `json:"startUrls"`
}

// NewPostsInput builds the input that returns handle's latest posts in [start, end]
func NewPostsInput(handle string, maxItems int, start, end time.Time) PostsInput {
	return PostsInput{
		Start:     start.UTC().Format(DateLayout),
		End:       end.UTC().Format(DateLayout),
		MaxItems:  maxItems,
		Sort:      "Latest",
		StartURLs: []string{ProfileURLPrefix + handle},
	}
}

// actorPath returns the URL path segment for an actor id ("user/name" -> "user~name")
func actorPath(actorID string) string {
	return url.PathEscape(strings.ReplaceAll(actorID, "/", "~"))
}

func runsPath(actorID string) string {
	return fmt.Sprintf("/v2/acts/%s/runs", actorPath(actorID))
}

func runPath(runID string) string {
	return fmt.Sprintf("/v2/actor-runs/%s", url.PathEscape(runID))
}

func datasetItemsPath(datasetID string) string {
	return fmt.Sprintf("/v2/datasets/%s/items", url.PathEscape(datasetID))
}
