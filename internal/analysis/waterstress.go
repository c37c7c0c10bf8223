package analysis

import (
	"math"

	"github.com/lox/cropwatch/internal/models"
)

const (
	RecommendIrrigate = "increase irrigation immediately"
	RecommendSensors  = "inspect soil sensors"
	RecommendMulch    = "apply mulch to retain moisture"
)

// AnalyzeWaterStress compares the water index with the value expected from
// the vegetation index on each date.
func AnalyzeWaterStress(cfg WaterStressConfig, ndvi, ndwi []float64) models.WaterStress {
	n := min(len(ndvi), len(ndwi))
	ws := models.WaterStress{
		StressLevel:     models.StressLow,
		StressIndex:     make([]float64, 0, n),
		Recommendations: []string{},
	}
	if n == 0 {
		return ws
	}
	ndvi, ndwi = ndvi[:n], ndwi[:n]

	for i := range n {
		expected := ndvi[i] * cfg.ExpectedRatio
		stress := (expected - ndwi[i]) / math.Max(expected, cfg.ExpectedFloor)
		ws.StressIndex = append(ws.StressIndex, math.Max(0, stress))
	}
	ws.AverageStress = mean(ws.StressIndex)
	ws.Correlation = correlation(ndvi, ndwi)

	switch {
	case ws.AverageStress > cfg.HighStress:
		ws.StressLevel = models.StressHigh
	case ws.AverageStress > cfg.MediumStress:
		ws.StressLevel = models.StressMedium
	}

	if ws.AverageStress > cfg.HighStress {
		ws.Recommendations = append(ws.Recommendations, RecommendIrrigate)
	}
	if ws.Correlation < cfg.SensorCorrelation {
		ws.Recommendations = append(ws.Recommendations, RecommendSensors)
	}
	if ws.AverageStress > cfg.MulchStress {
		ws.Recommendations = append(ws.Recommendations, RecommendMulch)
	}
	return ws
}
