package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdigest/pkg/logger"
	"xdigest/pkg/models"
	"xdigest/pkg/ratelimit"
)

var _ ratelimit.RequestLog = (*Store)(nil)

var testNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "test.db"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.WithClock(func() time.Time { return testNow })
}

func accounts(handles ...string) []models.FollowedAccount {
	out := make([]models.FollowedAccount, len(handles))
	for i, h := range handles {
		out[i] = models.FollowedAccount{Handle: h, DisplayName: h + " name"}
	}
	return out
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", logger.NewNopLogger())
	assert.Error(t, err)
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), DriverSQLite, path, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), DriverSQLite, path, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRebind(t *testing.T) {
	s := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", s.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	s.driver = DriverSQLite
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Contains(t, sqliteDSN("a.db"), "a.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, sqliteDSN("file:a.db?cache=shared"), "cache=shared&_pragma=")
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)", sqliteDSN("a.db?_pragma=foreign_keys(1)"))
}

func TestProfileByHandleAbsent(t *testing.T) {
	s := openTestStore(t)

	p, err := s.ProfileByHandle(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = s.ProfileByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUpsertProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProfile(ctx, models.FollowedAccount{Handle: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Handle)
	assert.Equal(t, int64(0), p.ExternalID)
	assert.Nil(t, p.LastChecked)

	again, err := s.UpsertProfile(ctx, models.FollowedAccount{Handle: "alice", ExternalID: 7})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, int64(0), again.ExternalID, "existing profiles are left untouched")
}

func TestBulkUpsertProfilesIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids, err := s.BulkUpsertProfiles(ctx, accounts("bob", "carol", "bob"))
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2])
	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, 2, countRows(t, s, "profiles"))

	again, err := s.BulkUpsertProfiles(ctx, accounts("bob", "carol", "bob"))
	require.NoError(t, err)
	assert.Equal(t, ids, again)
	assert.Equal(t, 2, countRows(t, s, "profiles"))

	mixed, err := s.BulkUpsertProfiles(ctx, accounts("dave", "carol"))
	require.NoError(t, err)
	assert.Equal(t, ids[1], mixed[1])
	assert.Equal(t, 3, countRows(t, s, "profiles"))

	p, err := s.ProfileByHandle(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, "dave name", p.DisplayName)
}

func TestBulkUpsertProfilesEdgeCases(t *testing.T) {
	s := openTestStore(t)

	ids, err := s.BulkUpsertProfiles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.BulkUpsertProfiles(context.Background(), accounts("ok", ""))
	assert.Error(t, err)
}

func TestBulkUpsertProfilesConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]int64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids, err := s.BulkUpsertProfiles(ctx, accounts("x", "y", "z"))
			assert.NoError(t, err)
			results[i] = ids
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, 3, countRows(t, s, "profiles"))
}

func TestProfilesByIDsKeepsOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids, err := s.BulkUpsertProfiles(ctx, accounts("a", "b", "c"))
	require.NoError(t, err)

	got, err := s.ProfilesByIDs(ctx, []int64{ids[2], 9999, ids[0]})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Handle)
	assert.Equal(t, "a", got[1].Handle)
}

func TestEdges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alice, err := s.UpsertProfile(ctx, models.FollowedAccount{Handle: "alice"})
	require.NoError(t, err)
	ids, err := s.BulkUpsertProfiles(ctx, accounts("carol", "bob"))
	require.NoError(t, err)

	n, err := s.AddEdges(ctx, alice.ID, append(ids, alice.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "self-edge is skipped")

	n, err = s.AddEdges(ctx, alice.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, countRows(t, s, "follow_edges"))

	edges, err := s.ListEdges(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, edges)

	set, err := s.FollowSet(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "carol", set[0].Handle)
	assert.Equal(t, "bob", set[1].Handle)

	none, err := s.ListEdges(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTouchLastChecked(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProfile(ctx, models.FollowedAccount{Handle: "alice"})
	require.NoError(t, err)
	require.NoError(t, s.TouchLastChecked(ctx, p.ID, testNow))

	p, err = s.ProfileByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastChecked)
	assert.True(t, testNow.Equal(*p.LastChecked))
}

func TestRequestLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	midnight := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendRequest(ctx, "u1", midnight.Add(-time.Second)))
	require.NoError(t, s.AppendRequest(ctx, "u1", midnight))
	require.NoError(t, s.AppendRequest(ctx, "u1", midnight.Add(time.Hour)))
	require.NoError(t, s.AppendRequest(ctx, "u2", midnight.Add(time.Hour)))

	n, err := s.CountRequestsSince(ctx, "u1", midnight)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountRequestsSince(ctx, "nobody", midnight)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGateOverStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gate := ratelimit.NewGate(s, 2).WithClock(func() time.Time { return testNow })

	for i := 0; i < 2; i++ {
		adm, err := gate.Acquire(ctx, "u1")
		require.NoError(t, err)
		require.True(t, adm.Allowed)
		assert.Equal(t, i+1, adm.Used)
	}

	adm, err := gate.Acquire(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 2, adm.Used)
	assert.Equal(t, 2, countRows(t, s, "request_records"), "rejected request must not be recorded")
}

func TestGateOverStoreConcurrentAcquire(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gate := ratelimit.NewGate(s, 3).WithClock(func() time.Time { return testNow })

	const callers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := gate.Acquire(ctx, "u1")
			assert.NoError(t, err)
			if adm.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
	n, err := s.CountRequestsSince(ctx, "u1", ratelimit.StartOfDay(testNow))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRequestsByDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendRequest(ctx, "u1", testNow))
	require.NoError(t, s.AppendRequest(ctx, "u1", testNow.Add(-time.Hour)))
	require.NoError(t, s.AppendRequest(ctx, "u1", testNow.AddDate(0, 0, -2)))
	require.NoError(t, s.AppendRequest(ctx, "u1", testNow.AddDate(0, 0, -10)))

	days, err := s.RequestsByDay(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), days[0].Day)
	assert.Equal(t, []int{1, 0, 2}, []int{days[0].Count, days[1].Count, days[2].Count})

	empty, err := s.RequestsByDay(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPostsArchive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bob, err := s.UpsertProfile(ctx, models.FollowedAccount{Handle: "bob"})
	require.NoError(t, err)

	posts := []models.Post{
		{Body: "old", URL: "https://x.com/bob/status/1", CreatedAt: testNow.Add(-48 * time.Hour)},
		{Body: "new", URL: "https://x.com/bob/status/2", CreatedAt: testNow.Add(-time.Hour)},
	}
	n, err := s.AddPosts(ctx, bob.ID, posts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.AddPosts(ctx, bob.ID, posts)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	recent, err := s.RecentPosts(ctx, bob.ID, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Body)
	assert.Equal(t, "bob", recent[0].Handle)
	assert.True(t, posts[1].CreatedAt.Equal(recent[0].CreatedAt))
	assert.True(t, testNow.Equal(recent[0].RetrievedAt))
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "u1", 0, "alice", testNow)
	require.NoError(t, err)

	sess, err := s.Session(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.Handle)
	assert.Nil(t, sess.FinishedAt)

	require.NoError(t, s.FinishSession(ctx, id, "SUCCESS", testNow.Add(time.Minute)))
	sess, err = s.Session(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess.FinishedAt)
	assert.Equal(t, "SUCCESS", sess.Outcome)

	assert.Error(t, s.FinishSession(ctx, id+100, "SUCCESS", testNow))
}
