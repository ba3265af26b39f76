package offset

import (
	"strconv"
	"time"
)

// Cursors are opaque tokens echoed on live responses (SSE, long-poll,
// WebSocket) so an external CDN can tell apart otherwise-identical
// requests that land in different cache-warm intervals. The core never
// compares a client's cursor to anything except to decide whether to
// advance it; clients must treat it as opaque.
//
// cursorEpoch anchors the interval clock so cursor values stay small and
// stable across restarts instead of being raw wall-clock timestamps.
var cursorEpoch = time.Date(2024, 10, 9, 0, 0, 0, 0, time.UTC)

const intervalSeconds = 20

// currentInterval returns the number of fixed-width intervals elapsed
// since cursorEpoch.
func currentInterval(now time.Time) int64 {
	return (now.UnixMilli() - cursorEpoch.UnixMilli()) / (intervalSeconds * 1000)
}

// NextCursor produces a fresh cursor for a live response given the
// client's previous cursor (empty on first contact). Every non-terminal
// live response must carry a cursor distinct from the one the client
// sent in; terminal (closed-at-tail) responses omit the cursor entirely
// and should not call this.
func NextCursor(previous string, now time.Time) string {
	current := currentInterval(now)
	if previous == "" {
		return strconv.FormatInt(current, 10)
	}
	prevInterval, err := strconv.ParseInt(previous, 10, 64)
	if err != nil || prevInterval < current {
		return strconv.FormatInt(current, 10)
	}
	// Client is already at or ahead of the current interval: force
	// forward progress by at least one interval so the cursor changes.
	return strconv.FormatInt(prevInterval+1, 10)
}
