package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"xdigest/pkg/apify"
	"xdigest/pkg/logger"
	"xdigest/pkg/models"
)

// CreatedAtLayout is the timestamp format of the posts actor's createdAt field
const CreatedAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

var (
	// ErrNoResults marks a dataset that held only the no-results sentinel
	ErrNoResults = errors.New("provider returned no results")
	// ErrInvalidRequest marks a call with an empty handle or non-positive limit
	ErrInvalidRequest = errors.New("invalid provider request")
)

// Result is the outcome of one provider call. A failed call still yields a
// usable Result: Items is empty and Unavailable records why.
type Result[T any] struct {
	Items       []T
	Unavailable error
}

// Degraded reports whether the call failed and was collapsed to empty
func (r Result[T]) Degraded() bool {
	return r.Unavailable != nil && !errors.Is(r.Unavailable, ErrNoResults)
}

func unavailable[T any](err error) Result[T] {
	return Result[T]{Items: []T{}, Unavailable: err}
}

// Provider fetches follow sets and posts from the scraping service
type Provider interface {
	FetchFollowing(ctx context.Context, handle string, maxItems int) Result[models.FollowedAccount]
	FetchPosts(ctx context.Context, handle string, maxItems int, start, end time.Time) Result[models.Post]
}

// ActorRunner runs an actor and returns its dataset items
type ActorRunner interface {
	RunActor(ctx context.Context, actorID string, input any) ([]json.RawMessage, error)
}

// Apify adapts an ActorRunner to Provider
type Apify struct {
	runner         ActorRunner
	followingActor string
	postsActor     string
	timeout        time.Duration
	now            func() time.Time
	logger         logger.Logger
}

// Option customises an Apify provider
type Option func(*Apify)

// WithActors overrides the actor ids
func WithActors(following, posts string) Option {
	return func(a *Apify) {
		if following != "" {
			a.followingActor = following
		}
		if posts != "" {
			a.postsActor = posts
		}
	}
}

// WithTimeout bounds each provider call
func WithTimeout(d time.Duration) Option {
	return func(a *Apify) { a.timeout = d }
}

// WithClock replaces the time source used for default dates and retrieval stamps
func WithClock(now func() time.Time) Option {
	return func(a *Apify) { a.now = now }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(a *Apify) { a.logger = l }
}

// NewApify creates a provider backed by runner
func NewApify(runner ActorRunner, opts ...Option) *Apify {
	a := &Apify{
		runner:         runner,
		followingActor: apify.FollowingActor,
		postsActor:     apify.PostsActor,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logger.OrGlobal(a.logger).WithField("component", "provider")
	return a
}

func (a *Apify) run(ctx context.Context, actorID string, input any) ([]json.RawMessage, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	items, err := a.runner.RunActor(ctx, actorID, input)
	if err != nil {
		return nil, err
	}
	if apify.IsNoResults(items) {
		return nil, ErrNoResults
	}
	return items, nil
}

// FetchFollowing returns the accounts handle follows. It never fails: any
// error yields an empty Result.
func (a *Apify) FetchFollowing(ctx context.Context, handle string, maxItems int) Result[models.FollowedAccount] {
	handle = NormalizeHandle(handle)
	if handle == "" || maxItems <= 0 {
		return unavailable[models.FollowedAccount](fmt.Errorf("%w: handle=%q max_items=%d", ErrInvalidRequest, handle, maxItems))
	}

	start := time.Now()
	items, err := a.run(ctx, a.followingActor, apify.NewFollowingInput(handle, maxItems))
	if err != nil {
		logger.LogProviderCall(a.logger, "fetch_following", handle, 0, time.Since(start), err)
		return unavailable[models.FollowedAccount](err)
	}

	accounts := make([]models.FollowedAccount, 0, len(items))
	skipped := 0
	for _, raw := range items {
		acct, ok := parseFollowing(raw)
		if !ok {
			skipped++
			continue
		}
		accounts = append(accounts, acct)
	}

	if skipped > 0 {
		a.logger.WarnWithFields("skipped malformed following records", map[string]interface{}{
			"handle":  handle,
			"skipped": skipped,
		})
	}
	logger.LogProviderCall(a.logger, "fetch_following", handle, len(accounts), time.Since(start), nil)
	return Result[models.FollowedAccount]{Items: accounts}
}

// FetchPosts returns handle's posts between start and end inclusive. Zero
// dates default to today (UTC). It never fails: any error yields an empty Result.
func (a *Apify) FetchPosts(ctx context.Context, handle string, maxItems int, start, end time.Time) Result[models.Post] {
	handle = NormalizeHandle(handle)
	if handle == "" || maxItems <= 0 {
		return unavailable[models.Post](fmt.Errorf("%w: handle=%q max_items=%d", ErrInvalidRequest, handle, maxItems))
	}

	now := a.now().UTC()
	if start.IsZero() {
		start = now
	}
	if end.IsZero() {
		end = now
	}

	began := time.Now()
	items, err := a.run(ctx, a.postsActor, apify.NewPostsInput(handle, maxItems, start, end))
	if err != nil {
		logger.LogProviderCall(a.logger, "fetch_posts", handle, 0, time.Since(began), err)
		return unavailable[models.Post](err)
	}

	posts := make([]models.Post, 0, len(items))
	for _, raw := range items {
		post, ok := parsePost(raw, handle, now)
		if !ok {
			continue
		}
		posts = append(posts, post)
	}

	logger.LogProviderCall(a.logger, "fetch_posts", handle, len(posts), time.Since(began), nil)
	return Result[models.Post]{Items: posts}
}

func parseFollowing(raw json.RawMessage) (models.FollowedAccount, bool) {
	var rec apify.UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.FollowedAccount{}, false
	}
	handle := NormalizeHandle(rec.UserName)
	if handle == "" || rec.NoResults {
		return models.FollowedAccount{}, false
	}
	return models.FollowedAccount{
		Handle:      handle,
		DisplayName: strings.TrimSpace(rec.Name),
		ExternalID:  int64(rec.ID),
	}, true
}

// parsePost maps a tweet record to a Post. A missing or malformed createdAt is
// left zero, which no recency window admits; only records without any text
// are dropped.
func parsePost(raw json.RawMessage, handle string, retrievedAt time.Time) (models.Post, bool) {
	var rec apify.TweetRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Post{}, false
	}

	body := rec.Text
	if body == "" {
		body = rec.FullText
	}
	if strings.TrimSpace(body) == "" || rec.NoResults {
		return models.Post{}, false
	}

	url := rec.URL
	if url == "" {
		url = rec.TwitterURL
	}

	owner := NormalizeHandle(rec.Author.UserName)
	if owner == "" {
		owner = handle
	}

	createdAt, err := ParseCreatedAt(rec.CreatedAt)
	if err != nil {
		createdAt = time.Time{}
	}

	return models.Post{
		Handle:      owner,
		Body:        body,
		URL:         url,
		CreatedAt:   createdAt,
		RetrievedAt: retrievedAt,
	}, true
}

// ParseCreatedAt parses a provider timestamp and returns it in UTC. Both the
// actor's native layout and RFC3339 are accepted; anything without an explicit
// offset is rejected.
func ParseCreatedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range []string{CreatedAtLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// NormalizeHandle trims whitespace and a leading "@" and lowercases the handle
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
