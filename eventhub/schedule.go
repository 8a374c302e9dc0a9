package eventhub

import "time"

// DefaultDelays is the reconnection schedule used when none is configured.
var DefaultDelays = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
	30 * time.Second,
}

// Schedule is a fixed table of reconnection delays. The delay for attempt n
// (counting from 1) is the (n-1)th entry.
type Schedule struct {
	delays []time.Duration
}

// NewSchedule returns a schedule over delays. An empty list yields
// DefaultDelays.
func NewSchedule(delays ...time.Duration) *Schedule {
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	d := make([]time.Duration, len(delays))
	copy(d, delays)
	return &Schedule{delays: d}
}

// Len returns the number of scheduled retries.
func (s *Schedule) Len() int { return len(s.delays) }

// Delays returns a copy of the table.
func (s *Schedule) Delays() []time.Duration {
	d := make([]time.Duration, len(s.delays))
	copy(d, s.delays)
	return d
}

// Delay returns the wait before retrying after attempt. Attempt 0 (a drop of
// an established connection) retries immediately. ok is false once the
// schedule is exhausted.
func (s *Schedule) Delay(attempt int) (delay time.Duration, ok bool) {
	switch {
	case attempt <= 0:
		return 0, true
	case attempt > len(s.delays):
		return 0, false
	default:
		return s.delays[attempt-1], true
	}
}
