// Package ratelimit holds the two limits xdigest enforces.
//
// TokenBucket paces HTTP calls to the scraping provider using
// golang.org/x/time/rate. Gate is the per-user daily admission check: it
// counts RequestLog entries since midnight UTC and rejects a run once the
// count reaches the threshold. Gate.Acquire counts and records in one atomic
// RequestLog call; Gate.Admit only reads.
//
// RequestLog implementations:
//   - internal/store.Store (SQL table, the default)
//   - RedisRequestLog (sorted set per user, shared across API replicas)
//   - MemoryRequestLog (tests and one-off CLI runs)
package ratelimit
