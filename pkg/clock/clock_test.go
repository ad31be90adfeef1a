package clock

import (
	"fmt"
	"testing"
	"time"

	"github.com/daviddao/virtualoffice/pkg/model"
)

func TestTickMonotonicallyIncreases(t *testing.T) {
	c := New(480)
	prev := c.Value()
	for i := 0; i < 100; i++ {
		ts := c.Tick()
		if ts <= prev {
			t.Fatalf("Tick %d: got %d, want > %d", i, ts, prev)
		}
		prev = ts
	}
}

func TestTickStartsFromZero(t *testing.T) {
	c := New(480)
	if v := c.Value(); v != 0 {
		t.Fatalf("new clock: got %d, want 0", v)
	}
	if ts := c.Tick(); ts != 1 {
		t.Fatalf("first Tick: got %d, want 1", ts)
	}
}

func TestSetAndValue(t *testing.T) {
	c := New(480)
	c.Set(42)
	if v := c.Value(); v != 42 {
		t.Fatalf("after Set(42): got %d, want 42", v)
	}
	if ts := c.Tick(); ts != 43 {
		t.Fatalf("Tick after Set(42): got %d, want 43", ts)
	}
}

func TestNewClampsTicksPerDay(t *testing.T) {
	if got := New(0).TicksPerDay(); got != 1 {
		t.Fatalf("New(0).TicksPerDay() = %d, want 1", got)
	}
}

func TestFormatSimTime(t *testing.T) {
	cases := []struct {
		tick int64
		tpd  int
		want string
	}{
		{0, 480, "Day 0 00:00"},
		{1, 480, "Day 1 00:00"},
		{21, 480, "Day 1 01:00"},
		{480, 480, "Day 1 23:57"},
		{481, 480, "Day 2 00:00"},
		{61, 1440, "Day 1 01:00"},
		{1441, 1440, "Day 2 00:00"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d/%d", tc.tick, tc.tpd), func(t *testing.T) {
			if got := FormatSimTime(tc.tick, tc.tpd); got != tc.want {
				t.Fatalf("FormatSimTime(%d, %d) = %q, want %q", tc.tick, tc.tpd, got, tc.want)
			}
		})
	}
}

func TestFormatSimTime_Properties(t *testing.T) {
	for _, tpd := range []int{1, 7, 96, 480, 1440, 3000} {
		for tick := int64(1); tick <= int64(3*tpd)+5; tick++ {
			m := MinuteOfDay(tick, tpd)
			if m < 0 || m >= 1440 {
				t.Fatalf("MinuteOfDay(%d, %d) = %d, want [0,1440)", tick, tpd, m)
			}
			wantDay := (tick-1)/int64(tpd) + 1
			var day, hh, mm int64
			if _, err := fmt.Sscanf(FormatSimTime(tick, tpd), "Day %d %d:%d", &day, &hh, &mm); err != nil {
				t.Fatalf("unparseable sim time for tick %d: %v", tick, err)
			}
			if day != wantDay {
				t.Fatalf("tick %d tpd %d: day = %d, want %d", tick, tpd, day, wantDay)
			}
		}
	}
}

func TestDayHelpers(t *testing.T) {
	if got := DayIndex(480, 480); got != 0 {
		t.Fatalf("DayIndex(480) = %d, want 0", got)
	}
	if got := DayIndex(481, 480); got != 1 {
		t.Fatalf("DayIndex(481) = %d, want 1", got)
	}
	if got := TickOfDay(481, 480); got != 0 {
		t.Fatalf("TickOfDay(481) = %d, want 0", got)
	}
	if !IsNewDay(1, 480) || !IsNewDay(481, 480) {
		t.Fatal("ticks 1 and 481 should start a new day")
	}
	if IsNewDay(0, 480) || IsNewDay(2, 480) {
		t.Fatal("ticks 0 and 2 should not start a new day")
	}
}

func TestSimDatetime(t *testing.T) {
	base := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	got := SimDatetime(base, 21, 480)
	want := base.Add(time.Hour)
	if !got.Equal(want) {
		t.Fatalf("SimDatetime(21) = %v, want %v", got, want)
	}
	got = SimDatetime(base, 481, 480)
	if !got.Equal(base.AddDate(0, 0, 1)) {
		t.Fatalf("SimDatetime(481) = %v, want next midnight", got)
	}
	if !SimDatetime(time.Time{}, 10, 480).IsZero() {
		t.Fatal("zero base should yield zero time")
	}
}

func TestTickForMinute(t *testing.T) {
	if got := TickForMinute(540, 480); got != 180 {
		t.Fatalf("TickForMinute(540, 480) = %d, want 180", got)
	}
	if got := TickForMinute(541, 480); got != 180 {
		t.Fatalf("TickForMinute(541, 480) = %d, want 180", got)
	}
	if got := TickForMinute(542, 480); got != 181 {
		t.Fatalf("TickForMinute(542, 480) = %d, want 181", got)
	}
}

func TestTotalOrderLess(t *testing.T) {
	tests := []struct {
		name  string
		tickA int64
		keyA  string
		tickB int64
		keyB  string
		want  bool
	}{
		{"lower tick wins", 1, "zed", 2, "amy", true},
		{"higher tick loses", 3, "amy", 2, "zed", false},
		{"tie broken by key", 5, "amy", 5, "bob", true},
		{"tie broken by key reversed", 5, "bob", 5, "amy", false},
		{"identical", 5, "amy", 5, "amy", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TotalOrderLess(tt.tickA, tt.keyA, tt.tickB, tt.keyB)
			if got != tt.want {
				t.Fatalf("TotalOrderLess(%d,%q,%d,%q) = %v, want %v",
					tt.tickA, tt.keyA, tt.tickB, tt.keyB, got, tt.want)
			}
		})
	}
}

func TestTotalOrderAntisymmetric(t *testing.T) {
	pairs := [][2]string{{"amy", "bob"}, {"bob", "amy"}, {"x", "y"}}
	for _, p := range pairs {
		ab := TotalOrderLess(7, p[0], 7, p[1])
		ba := TotalOrderLess(7, p[1], 7, p[0])
		if ab == ba {
			t.Fatalf("exactly one of %q<%q / %q<%q must hold", p[0], p[1], p[1], p[0])
		}
	}
}

func TestParseWorkHours(t *testing.T) {
	cases := []struct {
		in   string
		tpd  int
		want Window
	}{
		{"09:00-17:00", 480, Window{180, 340}},
		{"09:30-17:15", 1440, Window{570, 1035}},
		{"09:10-17:00", 100, Window{38, 71}},
		{"22:00-06:00", 480, Window{440, 120}},
		{"00:00-24:00", 480, Window{0, 480}},
		{"09:00-09:00", 480, Window{0, 480}},
		{"nine to five", 480, Window{0, 480}},
		{"25:00-26:00", 480, Window{0, 480}},
		{"", 480, Window{0, 480}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseWorkHours(tc.in, tc.tpd); got != tc.want {
				t.Fatalf("ParseWorkHours(%q, %d) = %+v, want %+v", tc.in, tc.tpd, got, tc.want)
			}
		})
	}
}

func TestWindowContains(t *testing.T) {
	day := Window{180, 340}
	if !day.Contains(180) || day.Contains(340) || day.Contains(179) {
		t.Fatal("day window must be [180, 340)")
	}
	night := Window{440, 120}
	if !night.Contains(450) || !night.Contains(10) || night.Contains(200) || night.Contains(120) {
		t.Fatal("overnight window must wrap around midnight")
	}
}

func TestIsWithinWorkHours(t *testing.T) {
	p := &model.Persona{WorkHours: "09:00-17:00"}
	// tick 181 has tick-of-day 180 (09:00).
	if !IsWithinWorkHours(p, 181, 480) {
		t.Fatal("09:00 should be within 09:00-17:00")
	}
	if IsWithinWorkHours(p, 1, 480) {
		t.Fatal("00:00 should be outside 09:00-17:00")
	}
	// Same tick-of-day on day 2.
	if !IsWithinWorkHours(p, 481+180, 480) {
		t.Fatal("09:00 on day 2 should be within work hours")
	}
	if !IsWithinWorkHours(&model.Persona{}, 1, 480) {
		t.Fatal("empty work hours should mean always working")
	}
	if !IsWithinWorkHours(nil, 1, 480) {
		t.Fatal("nil persona should fail open")
	}
}
