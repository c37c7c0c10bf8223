package analysis

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Spreads below this are treated as zero so constant series built from
// inexact decimals do not leak rounding noise into ratios.
const epsilon = 1e-12

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m, err := stats.Mean(xs)
	if err != nil || math.IsNaN(m) {
		return 0
	}
	return m
}

// populationStdDev is zero for fewer than two points.
func populationStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationPopulation(xs)
	if err != nil || math.IsNaN(sd) || sd < epsilon {
		return 0
	}
	return sd
}

// derivative returns the pointwise differences xs[i+1]-xs[i].
func derivative(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	d := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		d[i-1] = xs[i] - xs[i-1]
	}
	return d
}

func lastOr(xs []float64, def float64) float64 {
	if len(xs) == 0 {
		return def
	}
	return xs[len(xs)-1]
}

// correlation is the Pearson coefficient of a and b. It is 0 whenever it is
// undefined: empty or mismatched input, or a zero-variance side.
func correlation(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	if populationStdDev(a) == 0 || populationStdDev(b) == 0 {
		return 0
	}
	r, err := stats.Pearson(a, b)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// tail returns the last n elements of xs.
func tail[T any](xs []T, n int) []T {
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}
