package analysis

import (
	"fmt"
	"log"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

// HotspotScore applies the two-tier threshold rule. The severe tier is
// checked first so a reading satisfying both tiers scores high.
func HotspotScore(cfg HotspotConfig, ndvi, ndwi float64) float64 {
	switch {
	case ndvi < cfg.SevereNDVI && ndwi < cfg.SevereNDWI:
		return cfg.SevereScore
	case ndvi < cfg.MildNDVI && ndwi < cfg.MildNDWI:
		return cfg.MildScore
	default:
		return 0
	}
}

// Combine merges the three index series position by position into
// observations. Series of different lengths are truncated to the shortest;
// the returned diagnostics describe any such repair. Inputs are not modified.
func Combine(cfg HotspotConfig, ndvi, ndwi, evi []models.IndexPoint) ([]models.Observation, []string) {
	var diags []string

	n := min(len(ndvi), len(ndwi), len(evi))
	if len(ndvi) != n || len(ndwi) != n || len(evi) != n {
		msg := fmt.Sprintf("series length mismatch (ndvi=%d ndwi=%d evi=%d), truncated to %d", len(ndvi), len(ndwi), len(evi), n)
		log.Printf("combine: %s", msg)
		diags = append(diags, msg)
	}

	out := make([]models.Observation, 0, n)
	misaligned := -1
	for i := 0; i < n; i++ {
		date := ndvi[i].Date
		if misaligned < 0 && (!ndwi[i].Date.Equal(date) || !evi[i].Date.Equal(date)) {
			misaligned = i
		}
		obs := models.Observation{
			Date:          date,
			NDVI:          ndvi[i].Value,
			NDWI:          ndwi[i].Value,
			EVI:           evi[i].Value,
			CloudCoverage: cloudCoverage(ndvi[i], ndwi[i], evi[i]),
		}
		obs.HotspotScore = HotspotScore(cfg, obs.NDVI, obs.NDWI)
		out = append(out, obs)
	}

	if misaligned >= 0 {
		msg := fmt.Sprintf("series dates disagree from position %d, using ndvi dates", misaligned)
		log.Printf("combine: %s", msg)
		diags = append(diags, msg)
	}

	return out, diags
}

// cloudCoverage takes the first reported coverage, preferring the vegetation
// series, and defaults to 0 when no series reports one.
func cloudCoverage(points ...models.IndexPoint) float64 {
	for _, p := range points {
		if p.CloudCoverage.Valid {
			return p.CloudCoverage.Float64
		}
	}
	return 0
}

// Align keeps only the dates reported by all three series, so that Combine
// pairs readings from the same pass. Duplicate dates within one series keep
// the first reading. The diagnostic is empty when nothing was dropped.
func Align(ndvi, ndwi, evi []models.IndexPoint) (a, b, c []models.IndexPoint, diag string) {
	key := func(t time.Time) string { return t.UTC().Format("2006-01-02") }
	index := func(points []models.IndexPoint) map[string]models.IndexPoint {
		m := make(map[string]models.IndexPoint, len(points))
		for _, p := range points {
			if _, ok := m[key(p.Date)]; !ok {
				m[key(p.Date)] = p
			}
		}
		return m
	}
	water, enhanced := index(ndwi), index(evi)

	seen := make(map[string]bool, len(ndvi))
	for _, p := range ndvi {
		k := key(p.Date)
		if seen[k] {
			continue
		}
		seen[k] = true
		w, okW := water[k]
		e, okE := enhanced[k]
		if !okW || !okE {
			continue
		}
		a = append(a, p)
		b = append(b, w)
		c = append(c, e)
	}

	if dropped := max(len(ndvi), len(ndwi), len(evi)) - len(a); dropped > 0 {
		diag = fmt.Sprintf("dropped %d dates not reported by every index", dropped)
		log.Printf("combine: %s", diag)
	}
	return a, b, c, diag
}
