package optimizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficlab/greenwave/internal/traffic"
)

func counts(n, s, e, w int) traffic.VehicleCounts {
	return traffic.VehicleCounts{
		Counts: map[traffic.Direction]int{
			traffic.North: n,
			traffic.South: s,
			traffic.East:  e,
			traffic.West:  w,
		},
	}
}

func normalContext() traffic.TimingContext {
	return traffic.TimingContext{
		Weather:           traffic.WeatherNormal,
		HistoricalRatioNS: 0.5,
	}
}

func TestNoDemand(t *testing.T) {
	opt := New(DefaultConfig())

	res, err := opt.Optimize(counts(0, 0, 0, 0), normalContext())
	require.NoError(t, err)

	assert.Equal(t, 15, res.Plan.NorthSouth.GreenSeconds)
	assert.Equal(t, 15, res.Plan.EastWest.GreenSeconds)
	assert.Equal(t, 36, res.Plan.CycleLength())
	assert.Equal(t, 0.95, res.EfficiencyScore)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Contains(t, res.Reasoning, "no demand")
}

func TestHeavyNorthSouthWorkedExample(t *testing.T) {
	opt := New(DefaultConfig())

	// NS demand 30, EW demand 10, baseline matching observed demand.
	res, err := opt.Optimize(counts(18, 12, 6, 4), traffic.TimingContext{
		Weather:           traffic.WeatherNormal,
		HistoricalRatioNS: 0.75,
	})
	require.NoError(t, err)

	assert.Equal(t, 90, res.Plan.NorthSouth.GreenSeconds, "NS green clamped at max")
	assert.Equal(t, 36, res.Plan.EastWest.GreenSeconds)
	assert.Equal(t, 132, res.Plan.CycleLength())
	assert.Equal(t, 1.0, res.EfficiencyScore)
}

func TestGreenBoundsAndCycleRelation(t *testing.T) {
	opt := New(DefaultConfig())

	weathers := []traffic.Weather{
		traffic.WeatherNormal, traffic.WeatherRain, traffic.WeatherFog, traffic.WeatherSnow,
	}

	for _, w := range weathers {
		for _, emergency := range []bool{false, true} {
			for ns := 0; ns <= 100; ns += 7 {
				for ew := 0; ew <= 100; ew += 9 {
					tc := traffic.TimingContext{
						EmergencyPresent:  emergency,
						Weather:           w,
						HistoricalRatioNS: 0.5,
					}
					res, err := opt.Optimize(counts(ns, 0, ew, 0), tc)
					require.NoError(t, err)

					nsGreen := res.Plan.NorthSouth.GreenSeconds
					ewGreen := res.Plan.EastWest.GreenSeconds
					assert.GreaterOrEqual(t, nsGreen, 15)
					assert.LessOrEqual(t, nsGreen, 90)
					assert.GreaterOrEqual(t, ewGreen, 15)
					assert.LessOrEqual(t, ewGreen, 90)
					assert.Equal(t, nsGreen+ewGreen+6, res.Plan.CycleLength())
					assert.GreaterOrEqual(t, res.EfficiencyScore, 0.95)
					assert.LessOrEqual(t, res.EfficiencyScore, 1.0)
					assert.GreaterOrEqual(t, res.Confidence, 0.0)
					assert.LessOrEqual(t, res.Confidence, 1.0)
				}
			}
		}
	}
}

func TestNorthSouthGreenMonotonic(t *testing.T) {
	opt := New(DefaultConfig())

	prev := 0
	for ns := 0; ns <= 80; ns++ {
		res, err := opt.Optimize(counts(ns, 0, 10, 0), normalContext())
		require.NoError(t, err)

		green := res.Plan.NorthSouth.GreenSeconds
		assert.GreaterOrEqual(t, green, prev, "NS green decreased at ns=%d", ns)
		prev = green
	}
}

func TestEmergencyPriority(t *testing.T) {
	opt := New(DefaultConfig())
	base := counts(5, 4, 6, 3)

	plain, err := opt.Optimize(base, normalContext())
	require.NoError(t, err)

	flagged := counts(5, 4, 6, 3)
	flagged.Emergency = map[traffic.Direction]bool{traffic.North: true}
	tc := normalContext()
	tc.EmergencyPresent = true

	prioritized, err := opt.Optimize(flagged, tc)
	require.NoError(t, err)

	assert.GreaterOrEqual(t,
		prioritized.Plan.NorthSouth.GreenSeconds,
		plain.Plan.NorthSouth.GreenSeconds)
	assert.Contains(t, prioritized.Reasoning, "emergency priority")
}

func TestWeatherExtendsGreens(t *testing.T) {
	opt := New(DefaultConfig())
	c := counts(8, 6, 5, 4)

	normal, err := opt.Optimize(c, normalContext())
	require.NoError(t, err)

	for _, w := range []traffic.Weather{traffic.WeatherRain, traffic.WeatherFog, traffic.WeatherSnow} {
		tc := normalContext()
		tc.Weather = w

		adjusted, err := opt.Optimize(c, tc)
		require.NoError(t, err)

		assert.GreaterOrEqual(t,
			adjusted.Plan.NorthSouth.GreenSeconds,
			normal.Plan.NorthSouth.GreenSeconds, "weather %s", w)
		assert.GreaterOrEqual(t,
			adjusted.Plan.EastWest.GreenSeconds,
			normal.Plan.EastWest.GreenSeconds, "weather %s", w)
	}
}

func TestNegativeCountRejected(t *testing.T) {
	opt := New(DefaultConfig())

	_, err := opt.Optimize(counts(-1, 0, 3, 2), normalContext())

	var invalid *traffic.InvalidInputError
	require.True(t, errors.As(err, &invalid))
}

func TestClassBreakdownMismatchRejected(t *testing.T) {
	opt := New(DefaultConfig())

	c := counts(5, 0, 2, 1)
	c.Classes = map[traffic.Direction]map[string]int{
		traffic.North: {"car": 3, "truck": 1}, // sums to 4, direction total is 5
	}

	_, err := opt.Optimize(c, normalContext())

	var invalid *traffic.InvalidInputError
	require.True(t, errors.As(err, &invalid))
}

func TestClassBreakdownAccepted(t *testing.T) {
	opt := New(DefaultConfig())

	c := counts(5, 3, 2, 1)
	c.Classes = map[traffic.Direction]map[string]int{
		traffic.North: {"car": 4, "truck": 1},
		traffic.East:  {"car": 2},
	}

	_, err := opt.Optimize(c, normalContext())
	require.NoError(t, err)
}

func TestReasoningNamesFiredRules(t *testing.T) {
	opt := New(DefaultConfig())

	c := counts(12, 8, 3, 2)
	c.Emergency = map[traffic.Direction]bool{traffic.South: true}

	res, err := opt.Optimize(c, traffic.TimingContext{
		EmergencyPresent:  true,
		Weather:           traffic.WeatherSnow,
		HistoricalRatioNS: 0.7,
	})
	require.NoError(t, err)

	assert.Contains(t, res.Reasoning, "NS=20 vehicles")
	assert.Contains(t, res.Reasoning, "EW=5 vehicles")
	assert.Contains(t, res.Reasoning, "emergency priority for north_south")
	assert.Contains(t, res.Reasoning, "snow weather factor")
}

func TestCustomConfigClamps(t *testing.T) {
	opt := New(Config{MinGreenSeconds: 20, MaxGreenSeconds: 60})

	res, err := opt.Optimize(counts(40, 30, 1, 0), normalContext())
	require.NoError(t, err)

	assert.Equal(t, 60, res.Plan.NorthSouth.GreenSeconds)
	assert.GreaterOrEqual(t, res.Plan.EastWest.GreenSeconds, 20)
}
