package analysis

import "github.com/lox/cropwatch/internal/models"

// AnalyzeTrend derives growth, acceleration, volatility and seasonality from
// a chronological vegetation-index sequence.
func AnalyzeTrend(values []float64) models.Trends {
	growth := derivative(values)
	accel := derivative(growth)

	return models.Trends{
		OverallTrend: overallTrend(values),
		GrowthRate:   lastOr(growth, 0),
		Acceleration: lastOr(accel, 0),
		Volatility:   populationStdDev(values),
		Seasonality:  seasonality(values, growth),
	}
}

func overallTrend(values []float64) string {
	if len(values) < 2 {
		return models.TrendStable
	}
	first, last := values[0], values[len(values)-1]
	switch {
	case last > first:
		return models.TrendImproving
	case last < first:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

// seasonality reports "seasonal" when the growth sequence changes sign.
// Flat steps carry no sign and are skipped.
func seasonality(values, growth []float64) string {
	if len(values) < 4 {
		return models.SeasonalityInsufficient
	}
	prev := 0
	for _, d := range growth {
		s := sign(d)
		if s == 0 {
			continue
		}
		if prev != 0 && s != prev {
			return models.SeasonalitySeasonal
		}
		prev = s
	}
	return models.SeasonalityNone
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
