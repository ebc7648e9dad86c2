package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryRequestLog keeps request timestamps in process memory. It is used by
// tests and by single-process CLI runs with no store configured.
type MemoryRequestLog struct {
	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewMemoryRequestLog creates an empty in-memory request log
func NewMemoryRequestLog() *MemoryRequestLog {
	return &MemoryRequestLog{requests: make(map[string][]time.Time)}
}

func (m *MemoryRequestLog) AppendRequest(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[userID] = append(m.requests[userID], at)
	return nil
}

func (m *MemoryRequestLog) CountRequestsSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(userID, since), nil
}

func (m *MemoryRequestLog) ReserveRequest(_ context.Context, userID string, since, at time.Time, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.countLocked(userID, since)
	if limit > 0 && used >= limit {
		return used, false, nil
	}
	m.requests[userID] = append(m.requests[userID], at)
	if !at.Before(since) {
		used++
	}
	return used, true, nil
}

func (m *MemoryRequestLog) countLocked(userID string, since time.Time) int {
	count := 0
	for _, at := range m.requests[userID] {
		if !at.Before(since) {
			count++
		}
	}
	return count
}
