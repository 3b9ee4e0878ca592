package optimizer

import "time"

// Pattern names a recurring time-of-day traffic shape. Patterns carry
// the historical north-south demand share used as the optimizer's
// baseline blend.
type Pattern string

const (
	PatternMorningRush Pattern = "morning_rush"
	PatternEveningRush Pattern = "evening_rush"
	PatternNormalDay   Pattern = "normal_day"
	PatternNight       Pattern = "night"
	PatternWeekend     Pattern = "weekend"
)

var patternRatioNS = map[Pattern]float64{
	PatternMorningRush: 0.7,
	PatternEveningRush: 0.3,
	PatternNormalDay:   0.5,
	PatternNight:       0.4,
	PatternWeekend:     0.45,
}

// CurrentPattern classifies a wall-clock time into a traffic pattern.
func CurrentPattern(t time.Time) Pattern {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return PatternWeekend
	}
	switch hour := t.Hour(); {
	case hour >= 7 && hour <= 9:
		return PatternMorningRush
	case hour >= 17 && hour <= 19:
		return PatternEveningRush
	case hour >= 22 || hour <= 6:
		return PatternNight
	default:
		return PatternNormalDay
	}
}

// RatioNS returns the pattern's baseline north-south demand share.
func (p Pattern) RatioNS() float64 {
	if r, ok := patternRatioNS[p]; ok {
		return r
	}
	return patternRatioNS[PatternNormalDay]
}

// HistoricalRatioNS is the baseline NS share for the given time,
// suitable for TimingContext.HistoricalRatioNS.
func HistoricalRatioNS(t time.Time) float64 {
	return CurrentPattern(t).RatioNS()
}
