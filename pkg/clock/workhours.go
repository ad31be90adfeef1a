package clock

import (
	"math"
	"strconv"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// Window is a work-hours interval in tick-of-day coordinates: [Start, End).
// Start > End describes an overnight window.
type Window struct {
	Start int64
	End   int64
}

// FullDay returns the always-working window.
func FullDay(ticksPerDay int) Window {
	return Window{Start: 0, End: int64(ticksPerDay)}
}

// ParseWorkHours converts "HH:MM-HH:MM" into a tick-of-day window. The start
// is floored and the end ceiled, both clamped to [0, ticksPerDay].
// Malformed or degenerate input yields FullDay so a broken schedule never
// stalls a persona.
func ParseWorkHours(s string, ticksPerDay int) Window {
	if ticksPerDay <= 0 {
		ticksPerDay = 1
	}
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return FullDay(ticksPerDay)
	}
	startMin, ok1 := parseHHMM(parts[0])
	endMin, ok2 := parseHHMM(parts[1])
	if !ok1 || !ok2 {
		return FullDay(ticksPerDay)
	}
	// Multiply before dividing so whole-tick boundaries stay exact.
	tpd := float64(ticksPerDay)
	start := clamp(int64(math.Floor(float64(startMin)*tpd/minutesPerDay)), 0, int64(ticksPerDay))
	end := clamp(int64(math.Ceil(float64(endMin)*tpd/minutesPerDay)), 0, int64(ticksPerDay))
	if start == end {
		return FullDay(ticksPerDay)
	}
	return Window{Start: start, End: end}
}

// Contains reports whether tickOfDay falls inside the window.
func (w Window) Contains(tickOfDay int64) bool {
	if w.Start <= w.End {
		return tickOfDay >= w.Start && tickOfDay < w.End
	}
	return tickOfDay >= w.Start || tickOfDay < w.End
}

// IsWithinWorkHours reports whether p is working at tick. An empty
// work_hours string means always working.
func IsWithinWorkHours(p *model.Persona, tick int64, ticksPerDay int) bool {
	w := FullDay(ticksPerDay)
	if p != nil && strings.TrimSpace(p.WorkHours) != "" {
		w = ParseWorkHours(p.WorkHours, ticksPerDay)
	}
	return w.Contains(TickOfDay(tick, ticksPerDay))
}

// ParseHHMM parses "HH:MM" into minutes since midnight. 24:00 is accepted
// as the end of the day.
func ParseHHMM(s string) (int, bool) { return parseHHMM(s) }

func parseHHMM(s string) (int, bool) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 {
		return 0, false
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, false
	}
	return h*60 + m, true
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
