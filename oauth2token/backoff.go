/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package oauth2token

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultRetrySchedule is the fixed saturating schedule of delays between
// failed refresh attempts.
var defaultRetrySchedule = []time.Duration{
	0,
	1 * time.Second,
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// scheduleBackOff is a backoff.BackOff yielding delays from a fixed schedule,
// saturating at the last entry. Reset rewinds to the start of the schedule.
type scheduleBackOff struct {
	schedule []time.Duration
	attempt  int
}

var _ backoff.BackOff = (*scheduleBackOff)(nil)

func newScheduleBackOff(schedule []time.Duration) *scheduleBackOff {
	if len(schedule) == 0 {
		schedule = defaultRetrySchedule
	}
	return &scheduleBackOff{schedule: schedule}
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	idx := b.attempt
	if idx >= len(b.schedule) {
		idx = len(b.schedule) - 1
	}
	b.attempt++
	return b.schedule[idx]
}

func (b *scheduleBackOff) Reset() {
	b.attempt = 0
}
