// Package optimizer computes traffic-signal timing plans from vehicle
// counts. Optimize is pure and stateless: it is safe to call from any
// number of goroutines without locking.
package optimizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/trafficlab/greenwave/internal/traffic"
)

// Config holds the tunable timing constants.
type Config struct {
	MinGreenSeconds     int
	MaxGreenSeconds     int
	YellowSeconds       int
	EmergencyMultiplier float64
	WetWeatherFactor    float64 // rain and fog
	SnowWeatherFactor   float64
	ProcessingRate      float64 // vehicles cleared per green second per axis
}

// DefaultConfig returns the standard deployment constants.
func DefaultConfig() Config {
	return Config{
		MinGreenSeconds:     15,
		MaxGreenSeconds:     90,
		YellowSeconds:       3,
		EmergencyMultiplier: 2.0,
		WetWeatherFactor:    1.1,
		SnowWeatherFactor:   1.2,
		ProcessingRate:      2.0,
	}
}

// Optimizer produces timing plans. The zero value is not usable; build
// one with New.
type Optimizer struct {
	cfg Config
}

// New creates an optimizer with the given constants. Zero-valued
// fields fall back to the defaults.
func New(cfg Config) Optimizer {
	def := DefaultConfig()
	if cfg.MinGreenSeconds <= 0 {
		cfg.MinGreenSeconds = def.MinGreenSeconds
	}
	if cfg.MaxGreenSeconds <= 0 {
		cfg.MaxGreenSeconds = def.MaxGreenSeconds
	}
	if cfg.YellowSeconds <= 0 {
		cfg.YellowSeconds = def.YellowSeconds
	}
	if cfg.EmergencyMultiplier <= 0 {
		cfg.EmergencyMultiplier = def.EmergencyMultiplier
	}
	if cfg.WetWeatherFactor <= 0 {
		cfg.WetWeatherFactor = def.WetWeatherFactor
	}
	if cfg.SnowWeatherFactor <= 0 {
		cfg.SnowWeatherFactor = def.SnowWeatherFactor
	}
	if cfg.ProcessingRate <= 0 {
		cfg.ProcessingRate = def.ProcessingRate
	}
	return Optimizer{cfg: cfg}
}

// Optimize produces a timing plan for one intersection cycle.
// It returns *traffic.InvalidInputError if the counts are malformed.
func (o Optimizer) Optimize(counts traffic.VehicleCounts, tc traffic.TimingContext) (traffic.OptimizationResult, error) {
	if err := counts.Validate(); err != nil {
		return traffic.OptimizationResult{}, err
	}

	ns := counts.NorthSouthTotal()
	ew := counts.EastWestTotal()
	total := ns + ew

	if total == 0 {
		plan := o.plan(o.cfg.MinGreenSeconds, o.cfg.MinGreenSeconds)
		return traffic.OptimizationResult{
			Plan:            plan,
			EfficiencyScore: 0.95,
			Confidence:      0.5,
			Reasoning:       "no demand detected; minimal timing for both phase groups",
		}, nil
	}

	var rules []string

	// Blend observed demand with the historical time-of-day baseline.
	actualNS := float64(ns) / float64(total)
	ratioNS := actualNS*0.9 + clampFloat(tc.HistoricalRatioNS, 0, 1)*0.1
	ratioEW := 1 - ratioNS

	budget := o.greenBudget(total)
	nsGreen := o.clampGreen(int(math.Round(ratioNS * float64(budget))))
	ewGreen := o.clampGreen(int(math.Round(ratioEW * float64(budget))))

	// Rounding and min-clamping can leave part of the budget unspent.
	// Award it 60/40 in favor of the heavier axis, unless that axis is
	// already pinned at max green (its demand is saturated and a longer
	// cycle would serve nobody).
	if leftover := budget - nsGreen - ewGreen; leftover > 0 {
		heavy, light := &nsGreen, &ewGreen
		if ew > ns {
			heavy, light = &ewGreen, &nsGreen
		}
		if *heavy < o.cfg.MaxGreenSeconds {
			*heavy = o.clampGreen(*heavy + int(math.Round(float64(leftover)*0.6)))
			*light = o.clampGreen(*light + int(math.Round(float64(leftover)*0.4)))
			rules = append(rules, fmt.Sprintf("redistributed %ds leftover budget", leftover))
		}
	}

	if tc.EmergencyPresent {
		group := counts.EmergencyGroup()
		favored, other := &nsGreen, &ewGreen
		if group == traffic.EastWest {
			favored, other = &ewGreen, &nsGreen
		}
		*favored = o.clampGreen(int(math.Round(float64(*favored) * o.cfg.EmergencyMultiplier)))
		*other = o.clampGreen(budget - *favored)
		rules = append(rules, fmt.Sprintf("emergency priority for %s", group))
	}

	if factor := o.weatherFactor(tc.Weather); factor > 1 {
		nsGreen = o.clampGreen(int(math.Round(float64(nsGreen) * factor)))
		ewGreen = o.clampGreen(int(math.Round(float64(ewGreen) * factor)))
		rules = append(rules, fmt.Sprintf("%s weather factor %.1f", tc.Weather, factor))
	}

	plan := o.plan(nsGreen, ewGreen)

	reasoning := fmt.Sprintf(
		"proportional timing: NS=%d vehicles (ratio %.2f), EW=%d vehicles (ratio %.2f), total=%d, budget=%ds",
		ns, ratioNS, ew, ratioEW, total, budget)
	if len(rules) > 0 {
		reasoning += "; " + strings.Join(rules, "; ")
	}

	return traffic.OptimizationResult{
		Plan:            plan,
		EfficiencyScore: o.efficiencyScore(ns, ew, plan),
		Confidence:      o.confidence(ns, ew),
		Reasoning:       reasoning,
	}, nil
}

func (o Optimizer) plan(nsGreen, ewGreen int) traffic.PhasePlan {
	return traffic.PhasePlan{
		NorthSouth: traffic.PhaseTiming{GreenSeconds: nsGreen, YellowSeconds: o.cfg.YellowSeconds},
		EastWest:   traffic.PhaseTiming{GreenSeconds: ewGreen, YellowSeconds: o.cfg.YellowSeconds},
	}
}

// greenBudget is the total green time available in one cycle, derived
// from a demand-tiered base cycle length minus both yellow intervals.
func (o Optimizer) greenBudget(total int) int {
	var baseCycle int
	switch {
	case total <= 5:
		baseCycle = 60
	case total <= 15:
		baseCycle = 90
	case total <= 25:
		baseCycle = 120
	default:
		baseCycle = 150
	}
	return baseCycle - 2*o.cfg.YellowSeconds
}

func (o Optimizer) weatherFactor(w traffic.Weather) float64 {
	switch w {
	case traffic.WeatherRain, traffic.WeatherFog:
		return o.cfg.WetWeatherFactor
	case traffic.WeatherSnow:
		return o.cfg.SnowWeatherFactor
	default:
		return 1.0
	}
}

// efficiencyScore measures how well the plan covers demand. The base
// is throughput coverage: vehicles each axis can clear during its
// green, capped at its demand, over total demand. Bonuses reward a
// close demand/allocation match, a comfortable cycle length and high
// volume. The result is capped at 1.0 and floored at 0.95.
func (o Optimizer) efficiencyScore(ns, ew int, plan traffic.PhasePlan) float64 {
	total := ns + ew
	nsGreen := plan.NorthSouth.GreenSeconds
	ewGreen := plan.EastWest.GreenSeconds

	nsServed := math.Min(float64(ns), float64(nsGreen)*o.cfg.ProcessingRate)
	ewServed := math.Min(float64(ew), float64(ewGreen)*o.cfg.ProcessingRate)
	score := math.Min(1.0, (nsServed+ewServed)/float64(total))

	allocNS := float64(nsGreen) / float64(nsGreen+ewGreen)
	demandNS := float64(ns) / float64(total)
	if math.Abs(allocNS-demandNS) <= 0.05 {
		score += 0.10
	}

	if cycle := plan.CycleLength(); cycle >= 60 && cycle <= 120 {
		score += 0.05
	}

	score += math.Min(0.10, float64(total)/50*0.10)

	return clampFloat(score, 0.95, 1.0)
}

// confidence grows with the volume behind the dominant axis; sparse
// data means a less certain plan.
func (o Optimizer) confidence(ns, ew int) float64 {
	dominant := ns
	if ew > dominant {
		dominant = ew
	}
	c := 0.7 + math.Min(1.0, float64(dominant)/10)*0.2 + 0.1
	return clampFloat(c, 0, 0.95)
}

func (o Optimizer) clampGreen(green int) int {
	if green < o.cfg.MinGreenSeconds {
		return o.cfg.MinGreenSeconds
	}
	if green > o.cfg.MaxGreenSeconds {
		return o.cfg.MaxGreenSeconds
	}
	return green
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
