// Package recency selects items created "today" in UTC.
//
// Go timestamps always carry a location, so there is no naive time to reject
// at this level. Items in any location are compared as UTC instants, and a
// zero timestamp (the only value that cannot be placed on the timeline) is
// dropped.
package recency

import "time"

// Timestamped is anything with a creation time
type Timestamped interface {
	Timestamp() time.Time
}

// StartOfDayUTC returns midnight UTC of the day containing now
func StartOfDayUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the items whose timestamp is at or after midnight UTC of now's
// day. Input order is preserved.
func Today[T Timestamped](now time.Time, items []T) []T {
	return Since(StartOfDayUTC(now), items)
}

// Since returns the items with timestamp >= cutoff, dropping zero timestamps
func Since[T Timestamped](cutoff time.Time, items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		ts := item.Timestamp()
		if ts.IsZero() {
			continue
		}
		if !ts.UTC().Before(cutoff) {
			out = append(out, item)
		}
	}
	return out
}
