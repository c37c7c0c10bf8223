package api

import (
	"database/sql"
	"time"

	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/store"
)

// FieldView is the JSON shape of a field.
type FieldView struct {
	FieldID   string    `json:"field_id"`
	Name      string    `json:"name"`
	Crop      string    `json:"crop,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AreaHa    *float64  `json:"area_ha,omitempty"`
	Active    *bool     `json:"active,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func newFieldView(f models.Field) FieldView {
	v := FieldView{
		FieldID:   f.FieldID,
		Name:      f.Name,
		Crop:      f.Crop,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Active:    &f.Active,
		CreatedAt: f.CreatedAt,
	}
	if f.AreaHa.Valid {
		area := f.AreaHa.Float64
		v.AreaHa = &area
	}
	return v
}

// toField converts a create request. Fields are active unless stated otherwise.
func (v FieldView) toField() models.Field {
	f := models.Field{
		FieldID:   v.FieldID,
		Name:      v.Name,
		Crop:      v.Crop,
		Latitude:  v.Latitude,
		Longitude: v.Longitude,
		Active:    true,
	}
	if f.Name == "" {
		f.Name = f.FieldID
	}
	if v.AreaHa != nil {
		f.AreaHa = sql.NullFloat64{Float64: *v.AreaHa, Valid: true}
	}
	if v.Active != nil {
		f.Active = *v.Active
	}
	return f
}

// ResultSummary lists a stored result without its full series.
type ResultSummary struct {
	ID             string    `json:"id"`
	FieldID        string    `json:"field_id"`
	PeriodStart    string    `json:"period_start"`
	PeriodEnd      string    `json:"period_end"`
	OverallTrend   string    `json:"overall_trend"`
	StressLevel    string    `json:"stress_level"`
	GrowthStage    string    `json:"growth_stage"`
	PredictedYield float64   `json:"predicted_yield"`
	HotspotCount   int       `json:"hotspot_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func newResultSummary(r models.StoredResult) ResultSummary {
	return ResultSummary{
		ID:             r.ID,
		FieldID:        r.FieldID,
		PeriodStart:    r.PeriodStart.Format(dateLayout),
		PeriodEnd:      r.PeriodEnd.Format(dateLayout),
		OverallTrend:   r.OverallTrend,
		StressLevel:    r.StressLevel,
		GrowthStage:    r.GrowthStage,
		PredictedYield: r.PredictedYield,
		HotspotCount:   r.HotspotCount,
		CreatedAt:      r.CreatedAt,
	}
}

// StoredResultView is a stored result with its full analysis.
type StoredResultView struct {
	ResultSummary
	Result *models.TimeSeriesResult `json:"result"`
}

type IngestHealthView struct {
	Days   []store.IngestHealthSummary `json:"days"`
	Errors []IngestErrorView           `json:"recent_errors"`
}

type IngestErrorView struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	FieldID   string    `json:"field_id"`
	Index     string    `json:"index"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error"`
}
