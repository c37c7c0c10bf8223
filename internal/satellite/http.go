package satellite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/cropwatch/internal/htmlutil"
	"github.com/lox/cropwatch/internal/httputil"
	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
)

// HTTPProvider fetches index series from a satellite index API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	newBackOff func() backoff.BackOff
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httputil.NewClient(),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

func (p *HTTPProvider) Name() string { return "http" }

type SeriesResponse struct {
	FieldID string        `json:"field_id"`
	Index   string        `json:"index"`
	Points  []SeriesPoint `json:"points"`
}

type SeriesPoint struct {
	Date          string   `json:"date"`
	Value         *float64 `json:"value"`
	CloudCoverage *float64 `json:"cloud_coverage"`
}

func (p *HTTPProvider) GetSeries(ctx context.Context, req Request) ([]models.IndexPoint, error) {
	q := url.Values{}
	q.Set("start", req.Start.Format(DateLayout))
	q.Set("end", req.End.Format(DateLayout))
	if req.IntervalDays > 0 {
		q.Set("interval", strconv.Itoa(req.IntervalDays))
	}
	u := fmt.Sprintf("%s/fields/%s/indices/%s?%s", p.baseURL, url.PathEscape(req.FieldID), req.Index, q.Encode())

	start := time.Now()
	var body []byte
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		httpReq.Header.Set("Accept", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch series: %w", err))
		}
		defer resp.Body.Close()

		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("fetch series: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("fetch series: status %d: %s", resp.StatusCode, htmlutil.ToText(string(b))))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(p.newBackOff(), ctx))
	metrics.ProviderLatency.WithLabelValues(p.Name(), string(req.Index)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(p.Name(), string(req.Index), "error").Inc()
		return nil, err
	}
	metrics.ProviderCallsTotal.WithLabelValues(p.Name(), string(req.Index), "ok").Inc()

	var data SeriesResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return parseSeriesPoints(data.Points, req), nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseSeriesPoints converts wire points, treating null values as 0 and
// dropping points whose date cannot be parsed.
func parseSeriesPoints(in []SeriesPoint, req Request) []models.IndexPoint {
	out := make([]models.IndexPoint, 0, len(in))
	skipped := 0
	for _, sp := range in {
		d, err := parseDate(sp.Date)
		if err != nil {
			skipped++
			continue
		}
		pt := models.IndexPoint{Date: d}
		if sp.Value != nil {
			pt.Value = *sp.Value
		}
		if sp.CloudCoverage != nil {
			pt.CloudCoverage = sql.NullFloat64{Float64: *sp.CloudCoverage, Valid: true}
		}
		out = append(out, pt)
	}
	if skipped > 0 {
		log.Printf("satellite: %s/%s: skipped %d points with bad dates", req.FieldID, req.Index, skipped)
	}
	sortPoints(out)
	return out
}

func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}
