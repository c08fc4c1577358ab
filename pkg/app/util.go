package app

import "time"

const defaultInterval = 20 * time.Second

// calculateNextDelay returns the time until the next multiple of interval,
// so a 20s interval fires at :00, :20 and :40.
func calculateNextDelay(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = defaultInterval
	}
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now)
}
