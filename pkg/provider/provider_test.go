package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdigest/pkg/apify"
	"xdigest/pkg/logger"
	"xdigest/pkg/recency"
)

type fakeRunner struct {
	calls  atomic.Int32
	items  map[string]string
	err    error
	block  bool
	inputs []any
}

func (f *fakeRunner) RunActor(ctx context.Context, actorID string, input any) ([]json.RawMessage, error) {
	f.calls.Add(1)
	f.inputs = append(f.inputs, input)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(f.items[actorID]), &items); err != nil {
		return nil, err
	}
	return items, nil
}

var fixedNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

func newTestProvider(r ActorRunner, opts ...Option) *Apify {
	opts = append([]Option{WithLogger(logger.NewNopLogger()), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewApify(r, opts...)
}

func TestFetchFollowing(t *testing.T) {
	runner := &fakeRunner{items: map[string]string{
		apify.FollowingActor: `[
			{"userName":"Bob","name":"Bob B","id":"101"},
			{"name":"no handle"},
			"not an object",
			{"userName":"carol","id":202}
		]`,
	}}

	res := newTestProvider(runner).FetchFollowing(context.Background(), "@Alice", 100)
	require.NoError(t, res.Unavailable)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "bob", res.Items[0].Handle)
	assert.Equal(t, "Bob B", res.Items[0].DisplayName)
	assert.Equal(t, int64(101), res.Items[0].ExternalID)
	assert.Equal(t, "carol", res.Items[1].Handle)

	input := runner.inputs[0].(apify.FollowingInput)
	assert.Equal(t, []string{"alice"}, input.TwitterHandles)
	assert.Equal(t, 100, input.MaxItems)
}

func TestFetchFollowingSentinel(t *testing.T) {
	runner := &fakeRunner{items: map[string]string{apify.FollowingActor: `[{"noResults":true}]`}}

	res := newTestProvider(runner).FetchFollowing(context.Background(), "alice", 100)
	assert.Empty(t, res.Items)
	assert.NotNil(t, res.Items)
	assert.ErrorIs(t, res.Unavailable, ErrNoResults)
	assert.False(t, res.Degraded())
}

func TestFetchFollowingProviderFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("actor run FAILED")}

	res := newTestProvider(runner).FetchFollowing(context.Background(), "alice", 100)
	assert.Empty(t, res.Items)
	assert.True(t, res.Degraded())
}

func TestFetchFollowingInvalidRequest(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestProvider(runner)

	assert.ErrorIs(t, p.FetchFollowing(context.Background(), "  ", 10).Unavailable, ErrInvalidRequest)
	assert.ErrorIs(t, p.FetchFollowing(context.Background(), "alice", 0).Unavailable, ErrInvalidRequest)
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestFetchPostsParsesAndDefaultsDates(t *testing.T) {
	runner := &fakeRunner{items: map[string]string{
		apify.PostsActor: `[
			{"text":"first","url":"https://x.com/bob/status/1","createdAt":"Fri Mar 14 09:30:00 +0000 2025","author":{"userName":"bob"}},
			{"fullText":"second","twitterUrl":"https://twitter.com/bob/status/2","createdAt":"2025-03-14T10:00:00+02:00"},
			{"text":"bad date","createdAt":"yesterday-ish"},
			{"text":"","createdAt":"Fri Mar 14 09:30:00 +0000 2025"}
		]`,
	}}

	res := newTestProvider(runner).FetchPosts(context.Background(), "bob", 10, time.Time{}, time.Time{})
	require.NoError(t, res.Unavailable)
	require.Len(t, res.Items, 3)

	assert.Equal(t, "first", res.Items[0].Body)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), res.Items[0].CreatedAt)
	assert.Equal(t, fixedNow, res.Items[0].RetrievedAt)

	assert.Equal(t, "second", res.Items[1].Body)
	assert.Equal(t, "https://twitter.com/bob/status/2", res.Items[1].URL)
	assert.Equal(t, time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), res.Items[1].CreatedAt)
	assert.Equal(t, "bob", res.Items[1].Handle)

	assert.Equal(t, "bad date", res.Items[2].Body)
	assert.True(t, res.Items[2].CreatedAt.IsZero())
	assert.Equal(t, fixedNow, res.Items[2].RetrievedAt)

	today := recency.Today(fixedNow, res.Items)
	require.Len(t, today, 2, "a post with an unreadable date never counts as today's")
	assert.Equal(t, "second", today[1].Body)

	input := runner.inputs[0].(apify.PostsInput)
	assert.Equal(t, "2025-03-14", input.Start)
	assert.Equal(t, "2025-03-14", input.End)
	assert.Equal(t, 10, input.MaxItems)
}

func TestFetchPostsTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}

	res := newTestProvider(runner, WithTimeout(20*time.Millisecond)).FetchPosts(context.Background(), "bob", 10, time.Time{}, time.Time{})
	assert.Empty(t, res.Items)
	assert.ErrorIs(t, res.Unavailable, context.DeadlineExceeded)
}

func TestParseCreatedAt(t *testing.T) {
	got, err := ParseCreatedAt("Fri Mar 14 23:59:59 -0500 2025")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, time.Date(2025, 3, 15, 4, 59, 59, 0, time.UTC), got)

	_, err = ParseCreatedAt("2025-03-14 10:00:00")
	assert.Error(t, err)

	_, err = ParseCreatedAt("")
	assert.Error(t, err)
}
