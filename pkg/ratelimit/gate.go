package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// DefaultDailyLimit is the number of runs a user may start per UTC day.
const DefaultDailyLimit = 10

// RequestLog records orchestration requests per user
type RequestLog interface {
	AppendRequest(ctx context.Context, userID string, at time.Time) error
	CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ReserveRequest counts userID's requests since `since` and, when limit is
	// zero or less or the count is below limit, appends one at `at`. Counting
	// and appending happen as one atomic step. used includes the appended
	// request.
	ReserveRequest(ctx context.Context, userID string, since, at time.Time, limit int) (used int, reserved bool, err error)
}

// Admission is the result of a quota check
type Admission struct {
	Allowed   bool
	Used      int
	Threshold int
}

// Remaining returns how many runs are left today (never negative)
func (a Admission) Remaining() int {
	if a.Threshold <= 0 {
		return -1
	}
	if r := a.Threshold - a.Used; r > 0 {
		return r
	}
	return 0
}

// Gate admits or rejects runs based on how many the user started since UTC midnight
type Gate struct {
	log       RequestLog
	threshold int
	now       func() time.Time
}

// NewGate creates a gate over log. A threshold of zero or less admits every request.
func NewGate(log RequestLog, threshold int) *Gate {
	return &Gate{log: log, threshold: threshold, now: time.Now}
}

// WithClock replaces the gate's time source
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// StartOfDay returns midnight UTC of the day containing t
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Admit reports whether userID would be admitted now without recording
// anything; count >= threshold is rejected
func (g *Gate) Admit(ctx context.Context, userID string) (Admission, error) {
	used, err := g.log.CountRequestsSince(ctx, userID, StartOfDay(g.now()))
	if err != nil {
		return Admission{}, fmt.Errorf("count requests for %s: %w", userID, err)
	}

	return Admission{
		Allowed:   g.threshold <= 0 || used < g.threshold,
		Used:      used,
		Threshold: g.threshold,
	}, nil
}

// Acquire admits userID and records the request in one step. Concurrent
// callers never push the count past the threshold. A rejected request is
// not recorded.
func (g *Gate) Acquire(ctx context.Context, userID string) (Admission, error) {
	now := g.now()
	used, reserved, err := g.log.ReserveRequest(ctx, userID, StartOfDay(now), now, g.threshold)
	if err != nil {
		return Admission{}, fmt.Errorf("reserve request for %s: %w", userID, err)
	}
	return Admission{
		Allowed:   reserved,
		Used:      used,
		Threshold: g.threshold,
	}, nil
}

// Remaining returns how many runs userID has left today, or -1 when the gate is unlimited
func (g *Gate) Remaining(ctx context.Context, userID string) (int, error) {
	adm, err := g.Admit(ctx, userID)
	if err != nil {
		return 0, err
	}
	return adm.Remaining(), nil
}

// Threshold returns the daily limit
func (g *Gate) Threshold() int {
	return g.threshold
}
