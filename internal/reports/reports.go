// Package reports mirrors analysis results into the MongoDB "reports"
// collection read by the field dashboard.
package reports

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lox/cropwatch/internal/models"
)

type ReportStatus string

const (
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusReady      ReportStatus = "ready"
	ReportStatusError      ReportStatus = "error"
)

// Report is one document in the reports collection, keyed by field.
type Report struct {
	OperationID  string          `bson:"operation_id"           json:"operation_id"`
	Status       ReportStatus    `bson:"status"                 json:"status"`
	CreatedAt    time.Time       `bson:"created_at"             json:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at"             json:"updated_at"`
	YieldType    string          `bson:"yieldType"              json:"yieldType"`
	FieldID      string          `bson:"fieldId"                json:"fieldId"`
	History      []ReportDaily   `bson:"history,omitempty"      json:"history,omitempty"`
	Forecast     *ReportForecast `bson:"forecast,omitempty"     json:"forecast,omitempty"`
	GrowthStage  string          `bson:"growthStage,omitempty"  json:"growthStage,omitempty"`
	StressLevel  string          `bson:"stressLevel,omitempty"  json:"stressLevel,omitempty"`
	ErrorMessage string          `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}

type ReportDaily struct {
	Date       time.Time `bson:"date"                  json:"date"`
	NDVI       *float64  `bson:"ndvi,omitempty"        json:"ndvi,omitempty"`
	NDWI       *float64  `bson:"ndwi,omitempty"        json:"ndwi,omitempty"`
	EVI        *float64  `bson:"evi,omitempty"         json:"evi,omitempty"`
	CloudCover *int      `bson:"cloud_cover,omitempty" json:"cloud_cover,omitempty"`
	Type       int       `bson:"type"                  json:"type"` // 0: actual, 1: forecast
}

type ReportForecast struct {
	Year       int        `bson:"year"                 json:"year"`
	YieldTph   *float64   `bson:"yieldTph,omitempty"   json:"yieldTph,omitempty"`
	Confidence *float64   `bson:"confidence,omitempty" json:"confidence,omitempty"`
	NDVIPeak   *float64   `bson:"ndviPeak,omitempty"   json:"ndviPeak,omitempty"`
	NDVIPeakAt *time.Time `bson:"ndviPeakAt,omitempty" json:"ndviPeakAt,omitempty"`
	Model      string     `bson:"model,omitempty"      json:"model,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// BuildReport converts a result into the report document shape. Yield is
// reported in tonnes per hectare.
func BuildReport(field models.Field, r *models.TimeSeriesResult) Report {
	rep := Report{
		OperationID: uuid.NewString(),
		Status:      ReportStatusReady,
		CreatedAt:   r.GeneratedAt.UTC(),
		UpdatedAt:   r.GeneratedAt.UTC(),
		YieldType:   field.Crop,
		FieldID:     r.FieldID,
		GrowthStage: string(r.GrowthStage),
		StressLevel: r.WaterStress.StressLevel,
	}

	var peak *models.Observation
	for i := range r.Series {
		o := &r.Series[i]
		rep.History = append(rep.History, ReportDaily{
			Date:       o.Date.UTC(),
			NDVI:       ptr(o.NDVI),
			NDWI:       ptr(o.NDWI),
			EVI:        ptr(o.EVI),
			CloudCover: ptr(int(o.CloudCoverage + 0.5)),
		})
		if peak == nil || o.NDVI > peak.NDVI {
			peak = o
		}
	}

	if len(r.Series) == 0 {
		rep.ErrorMessage = "no observations in period"
		return rep
	}

	yp := r.YieldPrediction
	tph := yp.PredictedYield
	if yp.Unit == "kg/ha" {
		tph /= 1000
	}
	rep.Forecast = &ReportForecast{
		Year:       r.Period.End.Year(),
		YieldTph:   ptr(tph),
		Confidence: ptr(yp.Confidence),
		NDVIPeak:   ptr(peak.NDVI),
		NDVIPeakAt: ptr(peak.Date.UTC()),
		Model:      yp.Model,
	}
	return rep
}

type MongoWriter struct {
	client  *mongo.Client
	reports *mongo.Collection
}

// Connect opens a client against uri and ensures the fieldId index.
func Connect(ctx context.Context, uri, database string) (*MongoWriter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	w := &MongoWriter{client: client, reports: client.Database(database).Collection("reports")}
	if _, err := w.reports.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "fieldId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create reports index: %w", err)
	}
	log.Printf("reports: mirroring to %s.reports", database)
	return w, nil
}

// WriteReport replaces the field's report, keeping its original created_at.
func (w *MongoWriter) WriteReport(ctx context.Context, field models.Field, r *models.TimeSeriesResult) error {
	rep := BuildReport(field, r)
	update := bson.M{
		"$set": bson.M{
			"operation_id": rep.OperationID,
			"status":       rep.Status,
			"updated_at":   rep.UpdatedAt,
			"yieldType":    rep.YieldType,
			"history":      rep.History,
			"forecast":     rep.Forecast,
			"growthStage":  rep.GrowthStage,
			"stressLevel":  rep.StressLevel,
			"errorMessage": rep.ErrorMessage,
		},
		"$setOnInsert": bson.M{"created_at": rep.CreatedAt},
	}
	_, err := w.reports.UpdateOne(ctx, bson.M{"fieldId": rep.FieldID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", rep.FieldID, err)
	}
	return nil
}

func (w *MongoWriter) Close(ctx context.Context) error {
	return w.client.Disconnect(ctx)
}
