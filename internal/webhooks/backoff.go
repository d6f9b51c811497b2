package webhooks

import "time"

// backoffSchedule maps the attempt number (1-based) to the delay before the
// next retry: 1m, 5m, 30m, 2h, 6h, 24h. Attempts beyond the table reuse the
// last entry.
var backoffSchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	1800 * time.Second,
	7200 * time.Second,
	21600 * time.Second,
	86400 * time.Second,
}

// NextRetryAt returns the instant of the next retry after a failed attempt,
// or nil when the attempt budget is spent and the delivery must be marked
// exhausted. attempt is the attempt count after the failure being handled.
func NextRetryAt(attempt, maxAttempts int, now time.Time) *time.Time {
	if attempt >= maxAttempts {
		return nil
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	t := now.Add(backoffSchedule[idx])
	return &t
}
