package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/satellite"
	"github.com/lox/cropwatch/internal/store"
)

// AlertPublisher sends notable outcomes of an analysis to subscribers.
type AlertPublisher interface {
	Publish(ctx context.Context, field models.Field, result *models.TimeSeriesResult) (int, error)
}

// ReportWriter mirrors an analysis into an external report store.
type ReportWriter interface {
	WriteReport(ctx context.Context, field models.Field, result *models.TimeSeriesResult) error
}

type Scheduler struct {
	store    *store.Store
	source   satellite.Provider
	engine   *analysis.Engine
	alerts   AlertPublisher
	reports  ReportWriter
	interval time.Duration
	lookback time.Duration
	now      func() time.Time
}

// NewScheduler pulls series from source into the store and analyses them
// with engine, which should read from the same store.
func NewScheduler(st *store.Store, source satellite.Provider, engine *analysis.Engine) *Scheduler {
	return &Scheduler{
		store:    st,
		source:   source,
		engine:   engine,
		interval: 6 * time.Hour,
		lookback: 90 * 24 * time.Hour,
		now:      time.Now,
	}
}

func (s *Scheduler) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

func (s *Scheduler) SetLookback(d time.Duration) {
	if d > 0 {
		s.lookback = d
	}
}

// SetAlertPublisher configures the scheduler to publish field alerts after each analysis.
func (s *Scheduler) SetAlertPublisher(p AlertPublisher) {
	s.alerts = p
}

// SetReportWriter configures the scheduler to mirror each analysis as a report.
func (s *Scheduler) SetReportWriter(w ReportWriter) {
	s.reports = w
}

func (s *Scheduler) Run(ctx context.Context) {
	s.IngestOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.IngestOnce(ctx)
		}
	}
}

// IngestOnce runs one cycle over every active field and returns the number
// of fields analysed.
func (s *Scheduler) IngestOnce(ctx context.Context) int {
	fields, err := s.store.GetActiveFields()
	if err != nil {
		log.Printf("scheduler: get active fields: %v", err)
		return 0
	}
	if len(fields) == 0 {
		log.Println("scheduler: no active fields")
		return 0
	}

	analysed := 0
	for _, f := range fields {
		if ctx.Err() != nil {
			break
		}
		if err := s.processField(ctx, f); err != nil {
			log.Printf("scheduler: field %s: %v", f.FieldID, err)
			continue
		}
		analysed++
	}
	log.Printf("scheduler: analysed %d of %d fields", analysed, len(fields))
	return analysed
}

func (s *Scheduler) processField(ctx context.Context, f models.Field) error {
	end := satellite.DateOnly(s.now())
	start := end.Add(-s.lookback)

	if from := s.fetchStart(f.FieldID, start); from.After(end) {
		log.Printf("scheduler: %s: up to date", f.FieldID)
	} else {
		s.ingestSeries(ctx, f.FieldID, from, end)
	}

	result := s.engine.Analyze(ctx, analysis.Request{
		FieldID:  f.FieldID,
		Start:    start,
		End:      end,
		Location: models.Location{Zone: "field", Latitude: f.Latitude, Longitude: f.Longitude},
	})

	id, err := s.store.SaveResult(result)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	log.Printf("scheduler: %s: saved result %s (%d observations, trend %s, stress %s)",
		f.FieldID, id, len(result.Series), result.Trends.OverallTrend, result.WaterStress.StressLevel)

	if s.alerts != nil {
		if n, err := s.alerts.Publish(ctx, f, result); err != nil {
			log.Printf("scheduler: %s: publish alerts: %v", f.FieldID, err)
		} else if n > 0 {
			log.Printf("scheduler: %s: published %d alerts", f.FieldID, n)
		}
	}
	if s.reports != nil {
		if err := s.reports.WriteReport(ctx, f, result); err != nil {
			log.Printf("scheduler: %s: write report: %v", f.FieldID, err)
		}
	}
	return nil
}

// fetchStart is the day after the oldest of the newest stored dates across
// the indices, so every index is fetched from the same date. A field with
// an index that has nothing stored is fetched from windowStart.
func (s *Scheduler) fetchStart(fieldID string, windowStart time.Time) time.Time {
	var oldest time.Time
	for _, index := range models.AllIndices {
		latest, err := s.store.GetLatestIndexDate(fieldID, index)
		if err != nil {
			log.Printf("scheduler: latest %s date for %s: %v", index, fieldID, err)
			return windowStart
		}
		if latest.IsZero() {
			return windowStart
		}
		if oldest.IsZero() || latest.Before(oldest) {
			oldest = latest
		}
	}
	if next := oldest.AddDate(0, 0, 1); next.After(windowStart) {
		return next
	}
	return windowStart
}

// ingestSeries fetches all three indices for [start, end], validates them
// together and stores what survives, recording one ingest run per index.
func (s *Scheduler) ingestSeries(ctx context.Context, fieldID string, start, end time.Time) {
	fetched := make(map[models.IndexKind][]models.IndexPoint, len(models.AllIndices))
	runs := make(map[models.IndexKind]*models.IngestRun, len(models.AllIndices))

	for _, index := range models.AllIndices {
		run, err := s.store.StartIngestRun(s.source.Name(), fieldID, index)
		if err != nil {
			log.Printf("scheduler: start ingest run: %v", err)
		}

		points, err := s.source.GetSeries(ctx, satellite.Request{
			FieldID:      fieldID,
			Index:        index,
			Start:        start,
			End:          end,
			IntervalDays: s.engine.Config().IntervalDays,
		})
		if err != nil {
			log.Printf("scheduler: fetch %s for %s: %v", index, fieldID, err)
			s.completeRun(run, 0, 0, err.Error())
			continue
		}
		fetched[index] = points
		runs[index] = run
	}

	valid, flagged := FilterValid(fetched, s.now())
	var problems string
	if len(flagged) > 0 {
		problems = formatFlags(flagged)
		log.Printf("scheduler: %s: flagged points: %s", fieldID, problems)
	}

	for _, index := range models.AllIndices {
		points, ok := fetched[index]
		if !ok {
			continue
		}
		run := runs[index]
		stored, err := s.store.InsertIndexPoints(fieldID, index, s.source.Name(), valid[index])
		if err != nil {
			log.Printf("scheduler: store %s for %s: %v", index, fieldID, err)
			s.completeRun(run, len(points), 0, err.Error())
			continue
		}
		metrics.IndexPointsIngested.WithLabelValues(string(index)).Add(float64(stored))
		log.Printf("scheduler: %s/%s: stored %d points", fieldID, index, stored)

		if run != nil {
			run.Success = true
		}
		s.completeRun(run, len(points), stored, problems)
	}
}

func (s *Scheduler) completeRun(run *models.IngestRun, parsed, stored int, message string) {
	if run == nil {
		return
	}
	run.RecordsParsed = sql.NullInt64{Int64: int64(parsed), Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	if message != "" {
		run.ErrorMessage = sql.NullString{String: message, Valid: true}
	}
	if err := s.store.CompleteIngestRun(run); err != nil {
		log.Printf("scheduler: complete ingest run %d: %v", run.ID, err)
	}
}

func formatFlags(flags map[string]int) string {
	parts := make([]string, 0, len(flags))
	for _, f := range []string{FlagValueNaN, FlagValueOutOfRange, FlagCloudInvalid, FlagFutureDate} {
		if n := flags[f]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", f, n))
		}
	}
	return strings.Join(parts, ", ")
}
