package comms

import "github.com/daviddao/virtualoffice/pkg/clock"

// Anchor maps a directive onto an absolute tick on the current day. The
// second result is false when the directive's tick-of-day is not strictly
// after the current tick-of-day; such lines are stale and never
// rescheduled to a later day.
func Anchor(d Directive, currentTick int64, ticksPerDay int) (int64, bool) {
	if ticksPerDay < 1 {
		ticksPerDay = 1
	}
	tod := clock.TickForMinute(d.Minutes, ticksPerDay)
	if tod >= int64(ticksPerDay) {
		tod = int64(ticksPerDay) - 1
	}
	if tod <= clock.TickOfDay(currentTick, ticksPerDay) {
		return 0, false
	}
	return clock.DayIndex(currentTick, ticksPerDay)*int64(ticksPerDay) + tod, true
}
