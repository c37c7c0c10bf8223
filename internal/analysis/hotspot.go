package analysis

import (
	"math"

	"github.com/lox/cropwatch/internal/models"
)

// DetectHotspots classifies the latest observation. The provider reports one
// aggregate value per field, so at most one hotspot is produced and its
// location is the field itself.
func DetectHotspots(cfg HotspotConfig, latest *models.Observation, loc models.Location) []models.Hotspot {
	hotspots := []models.Hotspot{}
	if latest == nil || latest.HotspotScore <= cfg.Threshold {
		return hotspots
	}

	if loc.Zone == "" {
		loc.Zone = "field"
	}
	kind := models.HotspotWater
	if latest.NDVI < cfg.HealthNDVI {
		kind = models.HotspotHealth
	}

	return append(hotspots, models.Hotspot{
		Location: loc,
		Date:     latest.Date,
		Severity: latest.HotspotScore,
		Type:     kind,
		AreaM2:   int(math.Round(latest.HotspotScore * cfg.AreaScaleM2)),
	})
}
