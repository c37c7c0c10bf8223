// Package analysis turns vegetation, water and enhanced-vegetation index
// series for one field into trend, hotspot, water-stress, yield and growth
// stage results.
package analysis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/satellite"
)

type Request struct {
	FieldID  string
	Start    time.Time
	End      time.Time
	Location models.Location
}

// Engine runs analyses with a fixed configuration. It holds no state between
// calls and is safe for concurrent use.
type Engine struct {
	provider satellite.Provider
	cfg      Config
	now      func() time.Time
}

func NewEngine(provider satellite.Provider, cfg Config) *Engine {
	return &Engine{
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Analyze fetches the three index series concurrently, aligns them on the
// dates all three report and runs the pipeline over them. A provider failure
// for one index is logged and recorded as a diagnostic; that index is treated
// as empty. Analyze never fails.
func (e *Engine) Analyze(ctx context.Context, req Request) *models.TimeSeriesResult {
	series := make([][]models.IndexPoint, len(models.AllIndices))
	errs := make([]error, len(models.AllIndices))

	var wg sync.WaitGroup
	for i, index := range models.AllIndices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("provider panic: %v", r)
				}
			}()
			series[i], errs[i] = e.provider.GetSeries(ctx, satellite.Request{
				FieldID:      req.FieldID,
				Index:        index,
				Start:        req.Start,
				End:          req.End,
				IntervalDays: e.cfg.IntervalDays,
			})
		}()
	}
	wg.Wait()

	var diags []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		index := models.AllIndices[i]
		log.Printf("engine: fetch %s for %s: %v", index, req.FieldID, err)
		diags = append(diags, fmt.Sprintf("%s unavailable: %v", index, err))
		series[i] = nil
	}

	ndvi, ndwi, evi, diag := Align(series[0], series[1], series[2])
	if diag != "" {
		diags = append(diags, diag)
	}

	result := e.Run(req, ndvi, ndwi, evi)
	result.Diagnostics = append(diags, result.Diagnostics...)

	metrics.AnalysesTotal.WithLabelValues(result.Trends.OverallTrend, result.WaterStress.StressLevel).Inc()
	for _, h := range result.Hotspots {
		metrics.HotspotsDetected.WithLabelValues(h.Type).Inc()
	}
	return result
}

// Run is the synchronous pipeline over already-fetched series. It does not
// modify its inputs and always returns a structurally complete result.
func (e *Engine) Run(req Request, ndvi, ndwi, evi []models.IndexPoint) *models.TimeSeriesResult {
	cfg := e.cfg
	series, diags := Combine(cfg.Hotspot, ndvi, ndwi, evi)

	ndviValues := make([]float64, len(series))
	ndwiValues := make([]float64, len(series))
	for i, o := range series {
		ndviValues[i] = o.NDVI
		ndwiValues[i] = o.NDWI
	}

	result := &models.TimeSeriesResult{
		FieldID:     req.FieldID,
		Period:      models.Period{Start: satellite.DateOnly(req.Start), End: satellite.DateOnly(req.End)},
		Series:      series,
		Diagnostics: diags,
		GeneratedAt: e.now().UTC(),
	}

	result.Trends = AnalyzeTrend(ndviValues)
	result.Hotspots = DetectHotspots(cfg.Hotspot, result.Latest(), req.Location)
	result.WaterStress = AnalyzeWaterStress(cfg.WaterStress, ndviValues, ndwiValues)
	result.GrowthStage = ClassifyGrowthStage(cfg.Stage, ndviValues, cfg.Window)

	features := ExtractFeatures(series, cfg.Window, cfg.Yield.LengthNormalizer)
	result.YieldPrediction = Predict(cfg, features, result.Trends)

	result.Recommendations = ComposeRecommendations(cfg, result.Trends, result.Hotspots, result.WaterStress)
	return result
}
