package satellite

import (
	"context"
	"database/sql"
	"hash/fnv"
	"math"

	"github.com/lox/cropwatch/internal/models"
)

// SyntheticProvider generates a deterministic seasonal green-up curve per
// field. Used for development and demos when no archive is configured.
type SyntheticProvider struct{}

func NewSyntheticProvider() *SyntheticProvider { return &SyntheticProvider{} }

func (p *SyntheticProvider) Name() string { return "synthetic" }

func (p *SyntheticProvider) GetSeries(ctx context.Context, req Request) ([]models.IndexPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := req.IntervalDays
	if step < 1 {
		step = 1
	}

	h := fnv.New32a()
	h.Write([]byte(req.FieldID))
	seed := h.Sum32()
	phase := float64(seed%30) - 15

	var out []models.IndexPoint
	end := DateOnly(req.End)
	for d, i := DateOnly(req.Start), 0; !d.After(end); d, i = d.AddDate(0, 0, step), i+1 {
		ndvi := seasonalNDVI(float64(d.YearDay()) + phase)
		var v float64
		switch req.Index {
		case models.IndexNDWI:
			v = ndvi*0.6 - 0.05
		case models.IndexEVI:
			v = ndvi * 0.85
		default:
			v = ndvi
		}
		cloud := float64((seed + uint32(i)*37) % 40)
		out = append(out, models.IndexPoint{
			Date:          d,
			Value:         math.Round(v*1000) / 1000,
			CloudCoverage: sql.NullFloat64{Float64: cloud, Valid: true},
		})
	}
	return out, nil
}

// seasonalNDVI peaks at 0.8 around day 160 and falls to a 0.15 floor.
func seasonalNDVI(doy float64) float64 {
	v := 0.15 + 0.65*math.Sin(math.Pi*(doy-60)/200)
	return math.Max(0.15, math.Min(0.8, v))
}
