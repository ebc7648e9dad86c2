package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	requestKeyPrefix = "xdigest:requests"
	requestKeyTTL    = 48 * time.Hour
)

// reserveScript counts and appends in one server-side step. Over the limit it
// returns {count, 0} and writes nothing.
var reserveScript = redis.NewScript(`
local used = redis.call('ZCOUNT', KEYS[1], ARGV[1], '+inf')
local limit = tonumber(ARGV[2])
if limit > 0 and used >= limit then
	return {used, 0}
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
if tonumber(ARGV[3]) >= tonumber(ARGV[1]) then
	used = used + 1
end
return {used, 1}
`)

// RedisRequestLog stores each user's requests in a sorted set scored by unix
// milliseconds, so several API replicas share one quota.
type RedisRequestLog struct {
	client redis.UniversalClient
}

// NewRedisClient connects and pings the server
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisRequestLog wraps an existing client
func NewRedisRequestLog(client redis.UniversalClient) *RedisRequestLog {
	return &RedisRequestLog{client: client}
}

func (r *RedisRequestLog) key(userID string) string {
	return fmt.Sprintf("%s:%s", requestKeyPrefix, userID)
}

func (r *RedisRequestLog) AppendRequest(ctx context.Context, userID string, at time.Time) error {
	k := r.key(userID)
	score := float64(at.UnixMilli())

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: score, Member: uuid.NewString()})
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(at.Add(-requestKeyTTL).UnixMilli(), 10))
	pipe.Expire(ctx, k, requestKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append request: %w", err)
	}
	return nil
}

func (r *RedisRequestLog) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, r.key(userID), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis count requests: %w", err)
	}
	return int(n), nil
}

func (r *RedisRequestLog) ReserveRequest(ctx context.Context, userID string, since, at time.Time, limit int) (int, bool, error) {
	res, err := reserveScript.Run(ctx, r.client, []string{r.key(userID)},
		since.UnixMilli(),
		limit,
		at.UnixMilli(),
		uuid.NewString(),
		at.Add(-requestKeyTTL).UnixMilli(),
		requestKeyTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis reserve request: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis reserve request: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}
