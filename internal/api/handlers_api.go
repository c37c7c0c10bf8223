package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/satellite"
	"github.com/lox/cropwatch/internal/store"
)

const dateLayout = satellite.DateLayout

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.store.ListFields()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]FieldView, 0, len(fields))
	for _, f := range fields {
		views = append(views, newFieldView(f))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var in FieldView
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in.FieldID = strings.TrimSpace(in.FieldID)
	if err := validateField(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := in.toField()
	if err := s.store.UpsertField(f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	saved, err := s.store.GetField(f.FieldID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reload field: %v", err))
		return
	}
	log.Printf("api: upserted field %s", f.FieldID)
	writeJSON(w, http.StatusCreated, newFieldView(*saved))
}

func validateField(v FieldView) error {
	switch {
	case v.FieldID == "":
		return fmt.Errorf("field_id is required")
	case strings.ContainsAny(v.FieldID, "/ "):
		return fmt.Errorf("field_id must not contain spaces or slashes")
	case v.Latitude < -90 || v.Latitude > 90:
		return fmt.Errorf("latitude out of range")
	case v.Longitude < -180 || v.Longitude > 180:
		return fmt.Errorf("longitude out of range")
	case v.AreaHa != nil && *v.AreaHa < 0:
		return fmt.Errorf("area_ha must not be negative")
	}
	return nil
}

// loadField writes a 404 and returns nil when the field does not exist.
func (s *Server) loadField(w http.ResponseWriter, r *http.Request) *models.Field {
	id := chi.URLParam(r, "id")
	f, err := s.store.GetField(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if f == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("field %q not found", id))
		return nil
	}
	return f
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	f := s.loadField(w, r)
	if f == nil {
		return
	}
	writeJSON(w, http.StatusOK, newFieldView(*f))
}

// parseWindow reads start and end as YYYY-MM-DD. end defaults to today and
// start to defaultWindow before end.
func (s *Server) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	end := satellite.DateOnly(s.now())
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q, want YYYY-MM-DD", v)
		}
		end = t
	}
	start := end.Add(-defaultWindow)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q, want YYYY-MM-DD", v)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s", start.Format(dateLayout), end.Format(dateLayout))
	}
	return start, end, nil
}

func (s *Server) analyze(r *http.Request, f *models.Field, start, end time.Time) *models.TimeSeriesResult {
	return s.engine.Analyze(r.Context(), analysis.Request{
		FieldID:  f.FieldID,
		Start:    start,
		End:      end,
		Location: models.Location{Zone: "field", Latitude: f.Latitude, Longitude: f.Longitude},
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	f := s.loadField(w, r)
	if f == nil {
		return
	}
	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.analyze(r, f, start, end)

	if r.URL.Query().Get("save") == "1" {
		id, err := s.store.SaveResult(result)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("save result: %v", err))
			return
		}
		w.Header().Set("X-Result-ID", id)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	f := s.loadField(w, r)
	if f == nil {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}

	results, err := s.store.ListResults(f.FieldID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]ResultSummary, 0, len(results))
	for _, res := range results {
		views = append(views, newResultSummary(res))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleLatestResult(w http.ResponseWriter, r *http.Request) {
	f := s.loadField(w, r)
	if f == nil {
		return
	}
	latest, err := s.store.GetLatestResult(f.FieldID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "no results for field")
		return
	}
	writeJSON(w, http.StatusOK, StoredResultView{ResultSummary: newResultSummary(*latest), Result: latest.Result})
}

func (s *Server) handleIngestHealth(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 90 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	summaries, err := s.store.GetIngestHealth(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	runs, err := s.store.GetRecentIngestErrors(20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	view := IngestHealthView{Days: summaries, Errors: make([]IngestErrorView, 0, len(runs))}
	if view.Days == nil {
		view.Days = []store.IngestHealthSummary{}
	}
	for _, run := range runs {
		view.Errors = append(view.Errors, IngestErrorView{
			ID:        run.ID,
			Source:    run.Source,
			FieldID:   run.FieldID,
			Index:     string(run.Index),
			StartedAt: run.StartedAt,
			Error:     run.ErrorMessage.String,
		})
	}
	writeJSON(w, http.StatusOK, view)
}
