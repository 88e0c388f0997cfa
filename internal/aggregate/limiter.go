package aggregate

import "time"

const secondsPerDay = 24 * 60 * 60

// morningCutoffHour splits the day for the catch-up boost: runs before this
// hour may take a larger share of the remaining budget.
const morningCutoffHour = 10

// RunLimit computes how many new articles a feed may collect in the current
// run. It spreads the feed's daily cap across the day: the pro-rata target for
// the time elapsed since midnight sets the pace, a floor of cap/48 (at least
// one) keeps slow feeds moving, a 20% share of the remaining budget lets
// bursty feeds catch up, and runs before 10:00 may take 40% of what is left so
// overnight backlogs clear early. The result never exceeds the remaining
// budget. All times are interpreted in UTC, matching the day boundary used for
// counting collected articles.
func RunLimit(dailyLimit, collectedToday int, now time.Time) int {
	if dailyLimit <= 0 || collectedToday >= dailyLimit {
		return 0
	}

	now = now.UTC()
	elapsed := now.Hour()*3600 + now.Minute()*60 + now.Second()

	// Ceiling of dailyLimit * elapsed / secondsPerDay.
	target := (dailyLimit*elapsed + secondsPerDay - 1) / secondsPerDay

	remaining := dailyLimit - collectedToday

	limit := max(1, dailyLimit/48)              // per-run floor
	limit = max(limit, target-collectedToday)   // pace gap
	limit = max(limit, remaining*20/100)        // proportional share

	if now.Hour() < morningCutoffHour {
		limit = max(limit, remaining*40/100)
	}

	return min(limit, remaining)
}
