// Package clock implements the simulation's discrete tick clock.
//
// A run is a sequence of ticks 1, 2, 3, ... with tick 0 meaning "not
// started". ticksPerDay ticks make up one simulated day, and day-local
// coordinates are derived from tick-1 so that the first tick of every day
// has tick-of-day 0:
//
//	day       = (tick-1)/ticksPerDay + 1
//	tickOfDay = (tick-1) mod ticksPerDay
//
// A tick-of-day maps onto the 24h clock proportionally
// (tickOfDay/ticksPerDay*1440 minutes).
//
// Note: Clock is not goroutine-safe. The engine owns exactly one instance
// and only touches it while holding its advance lock.
package clock

import (
	"fmt"
	"math"
	"time"
)

const minutesPerDay = 1440

// Clock is the simulation tick counter. Not goroutine-safe; see package doc.
type Clock struct {
	ts          int64
	ticksPerDay int64
}

// New returns a clock at tick 0. ticksPerDay values < 1 are treated as 1.
func New(ticksPerDay int) *Clock {
	if ticksPerDay < 1 {
		ticksPerDay = 1
	}
	return &Clock{ticksPerDay: int64(ticksPerDay)}
}

// Tick advances the clock by one and returns the new tick.
func (c *Clock) Tick() int64 {
	c.ts++
	return c.ts
}

// Value returns the current tick without advancing it.
func (c *Clock) Value() int64 { return c.ts }

// Set initializes the clock to a specific tick. Used to seed from the
// database when an engine is constructed.
func (c *Clock) Set(v int64) { c.ts = v }

// TicksPerDay returns the configured day resolution.
func (c *Clock) TicksPerDay() int64 { return c.ticksPerDay }

// String renders the current tick as "Day N HH:MM".
func (c *Clock) String() string { return FormatSimTime(c.ts, int(c.ticksPerDay)) }

// DayIndex returns the zero-based day index of tick. Tick 0 belongs to day 0.
func DayIndex(tick int64, ticksPerDay int) int64 {
	if tick <= 0 || ticksPerDay <= 0 {
		return 0
	}
	return (tick - 1) / int64(ticksPerDay)
}

// TickOfDay returns the day-local coordinate of tick in [0, ticksPerDay).
func TickOfDay(tick int64, ticksPerDay int) int64 {
	if tick <= 0 || ticksPerDay <= 0 {
		return 0
	}
	return (tick - 1) % int64(ticksPerDay)
}

// IsNewDay reports whether tick is the first tick of a simulated day.
func IsNewDay(tick int64, ticksPerDay int) bool {
	return tick > 0 && TickOfDay(tick, ticksPerDay) == 0
}

// MinuteOfDay returns the 24h-clock minute for tick, always < 1440.
func MinuteOfDay(tick int64, ticksPerDay int) int {
	if tick <= 0 || ticksPerDay <= 0 {
		return 0
	}
	frac := float64(TickOfDay(tick, ticksPerDay)) / float64(ticksPerDay)
	m := int(math.Round(frac * minutesPerDay))
	if m >= minutesPerDay {
		m = minutesPerDay - 1
	}
	return m
}

// FormatSimTime renders tick as "Day N HH:MM". Tick 0 is "Day 0 00:00".
func FormatSimTime(tick int64, ticksPerDay int) string {
	if tick <= 0 {
		return "Day 0 00:00"
	}
	day := DayIndex(tick, ticksPerDay) + 1
	m := MinuteOfDay(tick, ticksPerDay)
	return fmt.Sprintf("Day %d %02d:%02d", day, m/60, m%60)
}

// SimDatetime maps tick onto wall-clock time, with base being midnight of
// simulated day 1. The zero base yields the zero time.
func SimDatetime(base time.Time, tick int64, ticksPerDay int) time.Time {
	if base.IsZero() {
		return time.Time{}
	}
	if tick <= 0 {
		return base
	}
	day := DayIndex(tick, ticksPerDay)
	m := MinuteOfDay(tick, ticksPerDay)
	return base.AddDate(0, 0, int(day)).Add(time.Duration(m) * time.Minute)
}

// TickForMinute converts a 24h-clock minute into a tick-of-day using
// round(minutes * ticksPerDay / 1440).
func TickForMinute(minutes, ticksPerDay int) int64 {
	return int64(math.Round(float64(minutes) * float64(ticksPerDay) / minutesPerDay))
}

// TotalOrderLess defines a deterministic total order over (tick, key)
// pairs: a lower tick wins, and equal ticks fall back to lexicographic key
// order. Two parties applying it independently always agree on the winner.
func TotalOrderLess(tickA int64, keyA string, tickB int64, keyB string) bool {
	if tickA != tickB {
		return tickA < tickB
	}
	return keyA < keyB
}
