package models

import "time"

// Observation is one satellite pass over one field, with all three indices populated.
type Observation struct {
	Date          time.Time `json:"date"`
	NDVI          float64   `json:"ndvi"`
	NDWI          float64   `json:"ndwi"`
	EVI           float64   `json:"evi"`
	CloudCoverage float64   `json:"cloudCoverage"`
	HotspotScore  float64   `json:"hotspotScore"`
}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Trends struct {
	OverallTrend string  `json:"overallTrend"`
	GrowthRate   float64 `json:"growthRate"`
	Acceleration float64 `json:"acceleration"`
	Volatility   float64 `json:"volatility"`
	Seasonality  string  `json:"seasonality"`
}

const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"

	SeasonalityInsufficient = "insufficient_data"
	SeasonalitySeasonal     = "seasonal"
	SeasonalityNone         = "non_seasonal"
)

// Location identifies where a hotspot sits. Zone is "field" while the
// provider only reports one aggregate value per field.
type Location struct {
	Zone      string  `json:"zone"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

type Hotspot struct {
	Location Location  `json:"location"`
	Date     time.Time `json:"date"`
	Severity float64   `json:"severity"`
	Type     string    `json:"type"`
	AreaM2   int       `json:"area_m2"`
}

const (
	HotspotHealth = "health"
	HotspotWater  = "water"
)

type YieldPrediction struct {
	PredictedYield      float64   `json:"predictedYield"`
	Unit                string    `json:"unit"`
	Confidence          float64   `json:"confidence"`
	ContributingFactors []string  `json:"contributingFactors"`
	Features            []float64 `json:"features"`
	Model               string    `json:"model"`
}

type WaterStress struct {
	StressLevel     string    `json:"stressLevel"`
	StressIndex     []float64 `json:"stressIndex"`
	AverageStress   float64   `json:"averageStress"`
	Correlation     float64   `json:"correlation"`
	Recommendations []string  `json:"recommendations"`
}

const (
	StressLow    = "low"
	StressMedium = "medium"
	StressHigh   = "high"
)

type GrowthStage string

const (
	StageEmergence    GrowthStage = "emergence"
	StageVegetative   GrowthStage = "vegetative"
	StageReproductive GrowthStage = "reproductive"
	StageMaturity     GrowthStage = "maturity"
	StageUnknown      GrowthStage = "unknown"
)

// TimeSeriesResult is the full output of one analysis pass. It is built fresh
// on every call and never mutated after it is returned.
type TimeSeriesResult struct {
	FieldID         string          `json:"fieldId"`
	Period          Period          `json:"period"`
	Series          []Observation   `json:"series"`
	Trends          Trends          `json:"trends"`
	Hotspots        []Hotspot       `json:"hotspots"`
	YieldPrediction YieldPrediction `json:"yieldPrediction"`
	WaterStress     WaterStress     `json:"waterStress"`
	GrowthStage     GrowthStage     `json:"growthStage"`
	Recommendations []string        `json:"recommendations"`
	Diagnostics     []string        `json:"diagnostics,omitempty"`
	GeneratedAt     time.Time       `json:"generatedAt"`
}

// Latest returns the most recent observation, or nil for an empty series.
func (r *TimeSeriesResult) Latest() *Observation {
	if len(r.Series) == 0 {
		return nil
	}
	return &r.Series[len(r.Series)-1]
}
