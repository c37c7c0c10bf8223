package analysis

import (
	"math"

	"github.com/lox/cropwatch/internal/models"
)

const (
	FactorLowIndex       = "low_vegetation_index"
	FactorWaterStress    = "water_stress"
	FactorNegativeGrowth = "negative_growth"
	FactorHighVolatility = "high_volatility"
	FactorHotspots       = "hotspots_present"
	FactorDeclining      = "declining_trend"
	FactorNoData         = "insufficient_data"
)

// Features is the fixed eight-value input of the yield model, taken from the
// most recent observations. Any regressor that accepts this vector can stand
// in for the linear model.
type Features struct {
	MeanNDVI       float64
	MeanNDWI       float64
	MeanGrowthRate float64
	Volatility     float64
	CloudCoverage  float64 // latest, 0..1
	SeriesLength   float64 // capped at 1
	HotspotScore   float64 // latest
	MaxGrowthRate  float64 // floored at 0
}

func (f Features) Vector() []float64 {
	return []float64{
		f.MeanNDVI,
		f.MeanNDWI,
		f.MeanGrowthRate,
		f.Volatility,
		f.CloudCoverage,
		f.SeriesLength,
		f.HotspotScore,
		f.MaxGrowthRate,
	}
}

// ExtractFeatures builds the feature vector from the last window observations.
func ExtractFeatures(series []models.Observation, window int, lengthNormalizer float64) Features {
	if len(series) == 0 {
		return Features{}
	}
	recent := tail(series, window)
	ndvi := make([]float64, len(recent))
	ndwi := make([]float64, len(recent))
	for i, o := range recent {
		ndvi[i] = o.NDVI
		ndwi[i] = o.NDWI
	}
	growth := derivative(ndvi)
	latest := recent[len(recent)-1]

	maxGrowth := 0.0
	for _, g := range growth {
		maxGrowth = math.Max(maxGrowth, g)
	}

	return Features{
		MeanNDVI:       mean(ndvi),
		MeanNDWI:       mean(ndwi),
		MeanGrowthRate: mean(growth),
		Volatility:     populationStdDev(ndvi),
		CloudCoverage:  clamp01(latest.CloudCoverage / 100),
		SeriesLength:   clamp01(float64(len(series)) / lengthNormalizer),
		HotspotScore:   latest.HotspotScore,
		MaxGrowthRate:  maxGrowth,
	}
}

// Predict applies the linear yield model. The contributing factors explain
// the estimate but never change it. A zero-length series yields a zero
// estimate with zero confidence.
func Predict(cfg Config, f Features, trends models.Trends) models.YieldPrediction {
	y := cfg.Yield
	p := models.YieldPrediction{
		Unit:                y.Unit,
		Model:               y.Model,
		Features:            f.Vector(),
		ContributingFactors: []string{},
	}
	if f.SeriesLength == 0 {
		p.ContributingFactors = append(p.ContributingFactors, FactorNoData)
		return p
	}

	raw := y.BaseYield + f.MeanNDVI*y.NDVIWeight + f.MeanNDWI*y.NDWIWeight + f.MeanGrowthRate*y.GrowthWeight
	p.PredictedYield = math.Round(math.Max(0, raw))

	p.Confidence = y.BaseConfidence
	if f.MeanNDVI > y.BoostNDVI {
		p.Confidence += y.ConfidenceBoost
	}
	p.Confidence = clamp01(p.Confidence)

	if f.MeanNDVI < y.LowNDVI {
		p.ContributingFactors = append(p.ContributingFactors, FactorLowIndex)
	}
	if f.MeanNDWI < y.LowNDWI {
		p.ContributingFactors = append(p.ContributingFactors, FactorWaterStress)
	}
	if f.MeanGrowthRate < 0 {
		p.ContributingFactors = append(p.ContributingFactors, FactorNegativeGrowth)
	}
	if f.Volatility > y.HighVolatility {
		p.ContributingFactors = append(p.ContributingFactors, FactorHighVolatility)
	}
	if f.HotspotScore > cfg.Hotspot.Threshold {
		p.ContributingFactors = append(p.ContributingFactors, FactorHotspots)
	}
	if trends.OverallTrend == models.TrendDeclining {
		p.ContributingFactors = append(p.ContributingFactors, FactorDeclining)
	}
	return p
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
