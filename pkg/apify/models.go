package apify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Run statuses reported by the actor-runs endpoint
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusTimingOut = "TIMING-OUT"
	StatusTimedOut  = "TIMED-OUT"
	StatusAborting  = "ABORTING"
	StatusAborted   = "ABORTED"
)

// Run is an actor run as returned inside the {"data": ...} envelope
type Run struct {
	ID               string     `json:"id"`
	ActID            string     `json:"actId"`
	Status           string     `json:"status"`
	StatusMessage    string     `json:"statusMessage,omitempty"`
	DefaultDatasetID string     `json:"defaultDatasetId"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

// Terminal reports whether the run will not change status again
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusAborted:
		return true
	}
	return false
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// FlexInt64 decodes ids that arrive either as JSON numbers or numeric strings
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("id %q is not numeric: %w", s, err)
		}
		*f = FlexInt64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt64(n)
	return nil
}

// UserRecord is one item of the followings actor's dataset
type UserRecord struct {
	UserName       string    `json:"userName"`
	Name           string    `json:"name"`
	ID             FlexInt64 `json:"id"`
	Followers      *int64    `json:"followers,omitempty"`
	NoResults      bool      `json:"noResults,omitempty"`
}

// TweetRecord is one item of the posts actor's dataset
type TweetRecord struct {
	Text       string `json:"text"`
	FullText   string `json:"fullText"`
	URL        string `json:"url"`
	TwitterURL string `json:"twitterUrl"`
	CreatedAt  string `json:"createdAt"`
	Author     struct {
		UserName string `json:"userName"`
	} `json:"author"`
	NoResults bool `json:"noResults,omitempty"`
}

// IsNoResults reports whether items is the single {"noResults": true} sentinel
// the actors emit instead of an empty dataset.
func IsNoResults(items []json.RawMessage) bool {
	if len(items) != 1 {
		return false
	}
	var first struct {
		NoResults bool `json:"noResults"`
	}
	if err := json.Unmarshal(items[0], &first); err != nil {
		return false
	}
	return first.NoResults
}
