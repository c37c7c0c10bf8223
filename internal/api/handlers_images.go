package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/lox/cropwatch/internal/chart"
	"github.com/lox/cropwatch/internal/models"
)

// resultFor picks the result a chart or advisory describes. An explicit
// start or end runs a fresh analysis; otherwise the latest stored result is
// used, falling back to analysing the default window. key identifies the
// result for caching. On failure it writes the error response (500 for store
// errors, 400 for a bad window) and returns ok false.
func (s *Server) resultFor(w http.ResponseWriter, r *http.Request, f *models.Field) (result *models.TimeSeriesResult, key string, ok bool) {
	q := r.URL.Query()
	if q.Get("start") == "" && q.Get("end") == "" {
		latest, err := s.store.GetLatestResult(f.FieldID)
		if err != nil {
			log.Printf("api: latest result for %s: %v", f.FieldID, err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("latest result: %v", err))
			return nil, "", false
		}
		if latest != nil && latest.Result != nil {
			return latest.Result, latest.ID, true
		}
	}

	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	result = s.analyze(r, f, start, end)
	return result, fmt.Sprintf("%s_%s_%s", f.FieldID, start.Format(dateLayout), end.Format(dateLayout)), true
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	f := s.loadField(w, r)
	if f == nil {
		return
	}
	result, key, ok := s.resultFor(w, r, f)
	if !ok {
		return
	}

	if data, ok := s.chartCache.Get(f.FieldID, key); ok {
		servePNG(w, data)
		return
	}

	title := f.Name
	if f.Crop != "" {
		title += " (" + f.Crop + ")"
	}
	data, err := chart.Render(title, result)
	if err != nil {
		log.Printf("api: render chart for %s: %v", f.FieldID, err)
		writeError(w, http.StatusInternalServerError, "render chart")
		return
	}
	s.chartCache.Set(f.FieldID, key, data)
	servePNG(w, data)
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}

func (s *Server) handleAdvisory(w http.ResponseWriter, r *http.Request) {
	f := s.loadField(w, r)
	if f == nil {
		return
	}
	result, key, ok := s.resultFor(w, r, f)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.advisor.Advise(r.Context(), *f, key, result))
}
