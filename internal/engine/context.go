package engine

import "time"

// RunContext pins "now" for a single processing run so every detector sees
// the same clock and calendar.
type RunContext struct {
	Now      time.Time
	Location *time.Location
}

// NewRunContext normalises now into loc. Timestamps are truncated to
// microseconds so they survive a round trip through Postgres.
func NewRunContext(now time.Time, loc *time.Location) RunContext {
	if loc == nil {
		loc = time.UTC
	}
	return RunContext{Now: now.In(loc).Truncate(time.Microsecond), Location: loc}
}

// DayStart returns local midnight offset days from today.
func (rc RunContext) DayStart(offset int) time.Time {
	y, m, d := rc.Now.Date()
	return time.Date(y, m, d+offset, 0, 0, 0, 0, rc.Location)
}

// Today is the civil date of Now, as stored in daily summaries.
func (rc RunContext) Today() time.Time {
	y, m, d := rc.Now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayOf maps t onto its civil date in the run's location.
func (rc RunContext) DayOf(t time.Time) time.Time {
	y, m, d := t.In(rc.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
