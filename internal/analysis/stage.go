package analysis

import (
	"fmt"

	"github.com/lox/cropwatch/internal/models"
)

// ClassifyGrowthStage maps the mean of the last window vegetation-index
// values to a phenological stage.
func ClassifyGrowthStage(cfg StageConfig, ndvi []float64, window int) models.GrowthStage {
	if len(ndvi) == 0 {
		return models.StageUnknown
	}
	m := mean(tail(ndvi, window))
	switch {
	case m < cfg.Emergence:
		return models.StageEmergence
	case m < cfg.Vegetative:
		return models.StageVegetative
	case m < cfg.Reproductive:
		return models.StageReproductive
	default:
		return models.StageMaturity
	}
}

// ComposeRecommendations gathers advisory notes from the other analyses in a
// fixed order, dropping duplicates.
func ComposeRecommendations(cfg Config, trends models.Trends, hotspots []models.Hotspot, ws models.WaterStress) []string {
	var notes []string
	if trends.OverallTrend == models.TrendDeclining {
		notes = append(notes, "vegetation index is declining: investigate immediately")
	}
	if n := len(hotspots); n > 0 {
		noun := "hotspot"
		if n > 1 {
			noun = "hotspots"
		}
		notes = append(notes, fmt.Sprintf("%d stress %s detected: scout the affected area", n, noun))
	}
	notes = append(notes, ws.Recommendations...)
	if trends.Volatility > cfg.VolatilityAlert {
		notes = append(notes, "vegetation index is volatile: check observations for cloud contamination")
	}
	return dedupe(notes)
}

func dedupe(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}
