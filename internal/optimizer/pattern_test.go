package optimizer

import (
	"testing"
	"time"
)

func at(weekday time.Weekday, hour int) time.Time {
	// 2026-03-02 is a Monday.
	base := time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(weekday-time.Monday))
}

func TestCurrentPattern(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want Pattern
	}{
		{"monday morning rush", at(time.Monday, 8), PatternMorningRush},
		{"friday evening rush", at(time.Friday, 18), PatternEveningRush},
		{"wednesday midday", at(time.Wednesday, 13), PatternNormalDay},
		{"tuesday night", at(time.Tuesday, 23), PatternNight},
		{"thursday early morning", at(time.Thursday, 4), PatternNight},
		{"saturday noon", at(time.Saturday, 12), PatternWeekend},
	}

	for _, tc := range cases {
		if got := CurrentPattern(tc.t); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestPatternRatios(t *testing.T) {
	if r := PatternMorningRush.RatioNS(); r != 0.7 {
		t.Errorf("expected morning rush ratio 0.7, got %v", r)
	}
	if r := PatternEveningRush.RatioNS(); r != 0.3 {
		t.Errorf("expected evening rush ratio 0.3, got %v", r)
	}
	if r := Pattern("bogus").RatioNS(); r != 0.5 {
		t.Errorf("expected unknown pattern to fall back to 0.5, got %v", r)
	}
}

func TestHistoricalRatioBounds(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		r := HistoricalRatioNS(at(time.Monday, hour))
		if r < 0 || r > 1 {
			t.Errorf("hour %d: ratio %v out of [0,1]", hour, r)
		}
	}
}
