package reports

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/lox/cropwatch/internal/models"
)

func sampleResult() *models.TimeSeriesResult {
	d := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return &models.TimeSeriesResult{
		FieldID: "north",
		Period:  models.Period{Start: d, End: d.AddDate(0, 0, 10)},
		Series: []models.Observation{
			{Date: d, NDVI: 0.4, NDWI: 0.3, EVI: 0.35, CloudCoverage: 12.4},
			{Date: d.AddDate(0, 0, 5), NDVI: 0.62, NDWI: 0.4, EVI: 0.5, CloudCoverage: 40.6},
			{Date: d.AddDate(0, 0, 10), NDVI: 0.58, NDWI: 0.38, EVI: 0.48},
		},
		YieldPrediction: models.YieldPrediction{PredictedYield: 6850, Unit: "kg/ha", Confidence: 0.85, Model: "linear-v1"},
		WaterStress:     models.WaterStress{StressLevel: models.StressLow},
		GrowthStage:     models.StageVegetative,
		GeneratedAt:     d.AddDate(0, 0, 11),
	}
}

func TestBuildReport(t *testing.T) {
	rep := BuildReport(models.Field{FieldID: "north", Crop: "wheat"}, sampleResult())

	if rep.Status != ReportStatusReady {
		t.Errorf("Status = %q, want ready", rep.Status)
	}
	if rep.YieldType != "wheat" {
		t.Errorf("YieldType = %q, want wheat", rep.YieldType)
	}
	if len(rep.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(rep.History))
	}
	if *rep.History[0].CloudCover != 12 || *rep.History[1].CloudCover != 41 {
		t.Errorf("CloudCover = %d, %d; want 12, 41", *rep.History[0].CloudCover, *rep.History[1].CloudCover)
	}
	if rep.Forecast == nil {
		t.Fatal("Forecast is nil")
	}
	if *rep.Forecast.YieldTph != 6.85 {
		t.Errorf("YieldTph = %v, want 6.85", *rep.Forecast.YieldTph)
	}
	if *rep.Forecast.NDVIPeak != 0.62 {
		t.Errorf("NDVIPeak = %v, want 0.62", *rep.Forecast.NDVIPeak)
	}
	if got := rep.Forecast.NDVIPeakAt.Format("2006-01-02"); got != "2024-06-06" {
		t.Errorf("NDVIPeakAt = %s, want 2024-06-06", got)
	}
	if rep.Forecast.Year != 2024 {
		t.Errorf("Year = %d, want 2024", rep.Forecast.Year)
	}
	if rep.GrowthStage != "vegetative" {
		t.Errorf("GrowthStage = %q", rep.GrowthStage)
	}
	if rep.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", rep.ErrorMessage)
	}
}

func TestBuildReport_EmptySeries(t *testing.T) {
	r := sampleResult()
	r.Series = nil

	rep := BuildReport(models.Field{FieldID: "north"}, r)
	if rep.Forecast != nil {
		t.Error("Forecast should be nil without observations")
	}
	if rep.ErrorMessage == "" {
		t.Error("ErrorMessage should explain the missing forecast")
	}
	if rep.Status != ReportStatusReady {
		t.Errorf("Status = %q", rep.Status)
	}
}

func TestMongoWriter_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w, err := Connect(ctx, uri, fmt.Sprintf("cropwatch_test_%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() {
		w.reports.Database().Drop(ctx)
		w.Close(ctx)
	}()

	field := models.Field{FieldID: "north", Crop: "wheat"}
	if err := w.WriteReport(ctx, field, sampleResult()); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	r := sampleResult()
	r.YieldPrediction.PredictedYield = 7000
	if err := w.WriteReport(ctx, field, r); err != nil {
		t.Fatalf("WriteReport again: %v", err)
	}

	var rep Report
	if err := w.reports.FindOne(ctx, bson.M{"fieldId": "north"}).Decode(&rep); err != nil {
		t.Fatalf("find report: %v", err)
	}
	if rep.Forecast == nil || *rep.Forecast.YieldTph != 7 {
		t.Errorf("report = %+v", rep)
	}
	if n, err := w.reports.CountDocuments(ctx, bson.M{"fieldId": "north"}); err != nil || n != 1 {
		t.Errorf("documents for field = %d, %v, want 1", n, err)
	}
}
