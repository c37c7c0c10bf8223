package satellite

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/lox/cropwatch/internal/models"
)

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func fastRetry(p *HTTPProvider) {
	p.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
}

func TestHTTPProvider_GetSeries(t *testing.T) {
	var gotPath, gotAuth, gotStart string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotStart = r.URL.Query().Get("start")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"field_id":"f1","index":"ndvi","points":[
			{"date":"2024-06-11","value":0.52,"cloud_coverage":5},
			{"date":"2024-06-01","value":0.41,"cloud_coverage":null},
			{"date":"bogus","value":0.9},
			{"date":"2024-06-06T10:30:00Z","value":null}
		]}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/", "secret")
	points, err := p.GetSeries(context.Background(), Request{
		FieldID: "f1",
		Index:   models.IndexNDVI,
		Start:   day("2024-06-01"),
		End:     day("2024-06-30"),
	})
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}

	if gotPath != "/fields/f1/indices/ndvi" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotStart != "2024-06-01" {
		t.Errorf("start = %q", gotStart)
	}

	if len(points) != 3 {
		t.Fatalf("len(points) = %d, want 3", len(points))
	}
	wantDates := []string{"2024-06-01", "2024-06-06", "2024-06-11"}
	for i, want := range wantDates {
		if got := points[i].Date.Format(DateLayout); got != want {
			t.Errorf("points[%d].Date = %s, want %s", i, got, want)
		}
	}
	if points[0].CloudCoverage.Valid {
		t.Error("null cloud coverage should be invalid")
	}
	if points[1].Value != 0 {
		t.Errorf("null value = %v, want 0", points[1].Value)
	}
	if !points[2].CloudCoverage.Valid || points[2].CloudCoverage.Float64 != 5 {
		t.Errorf("cloud coverage = %v, want 5", points[2].CloudCoverage)
	}
}

func TestHTTPProvider_RetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"points":[{"date":"2024-06-01","value":0.5}]}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "")
	fastRetry(p)
	points, err := p.GetSeries(context.Background(), Request{FieldID: "f1", Index: models.IndexNDWI, Start: day("2024-06-01"), End: day("2024-06-02")})
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("len(points) = %d, want 1", len(points))
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestHTTPProvider_PermanentError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<html><body><h1>Not Found</h1><p>unknown field</p></body></html>`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "")
	fastRetry(p)
	_, err := p.GetSeries(context.Background(), Request{FieldID: "nope", Index: models.IndexEVI, Start: day("2024-06-01"), End: day("2024-06-02")})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 404)", calls)
	}
	if !strings.Contains(err.Error(), "status 404") || !strings.Contains(err.Error(), "unknown field") {
		t.Errorf("error = %v", err)
	}
	if strings.Contains(err.Error(), "<html>") {
		t.Errorf("error should not contain markup: %v", err)
	}
}

func TestParseCSVSeries(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantLen   int
		wantFirst float64
		wantErr   bool
	}{
		{
			name:      "with header",
			input:     "date,value,cloud_coverage\n2024-06-06,0.45,10\n2024-06-01,0.41,\n",
			wantLen:   2,
			wantFirst: 0.41,
		},
		{
			name:      "no header two columns",
			input:     "2024-06-01,0.3\n2024-06-06,0.35\n",
			wantLen:   2,
			wantFirst: 0.3,
		},
		{
			name:      "empty value is zero",
			input:     "2024-06-01,,20\n",
			wantLen:   1,
			wantFirst: 0,
		},
		{
			name:    "bad value",
			input:   "2024-06-01,abc\n",
			wantErr: true,
		},
		{
			name:    "bad date",
			input:   "June 1,0.4\n",
			wantErr: true,
		},
		{
			name:    "single column",
			input:   "2024-06-01\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := ParseCSVSeries(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCSVSeries: %v", err)
			}
			if len(points) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(points), tt.wantLen)
			}
			if points[0].Value != tt.wantFirst {
				t.Errorf("first value = %v, want %v", points[0].Value, tt.wantFirst)
			}
		})
	}
}

func TestThin(t *testing.T) {
	var points []models.IndexPoint
	for d := day("2024-06-01"); !d.After(day("2024-06-20")); d = d.AddDate(0, 0, 1) {
		points = append(points, models.IndexPoint{Date: d, Value: 0.5})
	}

	tests := []struct {
		name      string
		start     string
		end       string
		interval  int
		wantDates []string
	}{
		{"daily window", "2024-06-03", "2024-06-05", 1, []string{"2024-06-03", "2024-06-04", "2024-06-05"}},
		{"five day spacing", "2024-06-01", "2024-06-20", 5, []string{"2024-06-01", "2024-06-06", "2024-06-11", "2024-06-16"}},
		{"outside range", "2024-07-01", "2024-07-31", 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := thin(points, day(tt.start), day(tt.end), tt.interval)
			if len(got) != len(tt.wantDates) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.wantDates))
			}
			for i, want := range tt.wantDates {
				if g := got[i].Date.Format(DateLayout); g != want {
					t.Errorf("[%d] = %s, want %s", i, g, want)
				}
			}
		})
	}
}

func TestThin_GridIgnoresGaps(t *testing.T) {
	var points []models.IndexPoint
	for d := day("2024-06-01"); !d.After(day("2024-06-20")); d = d.AddDate(0, 0, 1) {
		if d.Equal(day("2024-06-06")) {
			continue
		}
		points = append(points, models.IndexPoint{Date: d, Value: 0.5})
	}

	got := thin(points, day("2024-06-01"), day("2024-06-20"), 5)
	want := []string{"2024-06-01", "2024-06-07", "2024-06-11", "2024-06-16"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if g := got[i].Date.Format(DateLayout); g != w {
			t.Errorf("[%d] = %s, want %s", i, g, w)
		}
	}
}

type fakePointStore struct {
	points []models.IndexPoint
	err    error
}

func (f fakePointStore) GetIndexPoints(fieldID string, index models.IndexKind, start, end time.Time) ([]models.IndexPoint, error) {
	return f.points, f.err
}

func TestStoreProvider(t *testing.T) {
	p := NewStoreProvider(fakePointStore{points: []models.IndexPoint{
		{Date: day("2024-06-01"), Value: 0.4},
		{Date: day("2024-06-02"), Value: 0.41},
		{Date: day("2024-06-06"), Value: 0.45},
	}})
	got, err := p.GetSeries(context.Background(), Request{FieldID: "f1", Index: models.IndexNDVI, Start: day("2024-06-01"), End: day("2024-06-30"), IntervalDays: 5})
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	failing := NewStoreProvider(fakePointStore{err: sql.ErrConnDone})
	if _, err := failing.GetSeries(context.Background(), Request{FieldID: "f1", Index: models.IndexNDVI}); err == nil {
		t.Error("expected error from failing store")
	}
}

func TestSyntheticProvider_Deterministic(t *testing.T) {
	p := NewSyntheticProvider()
	req := Request{FieldID: "f1", Index: models.IndexNDVI, Start: day("2024-03-01"), End: day("2024-09-30"), IntervalDays: 5}

	a, err := p.GetSeries(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.GetSeries(context.Background(), req)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("len a = %d, b = %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Value != b[i].Value || !a[i].Date.Equal(b[i].Date) {
			t.Fatalf("series differ at %d", i)
		}
		if a[i].Value < 0.15 || a[i].Value > 0.8 {
			t.Errorf("value %v out of range", a[i].Value)
		}
		if i > 0 && a[i].Date.Sub(a[i-1].Date) != 5*24*time.Hour {
			t.Errorf("spacing at %d = %v", i, a[i].Date.Sub(a[i-1].Date))
		}
	}

	ndwi, _ := p.GetSeries(context.Background(), Request{FieldID: "f1", Index: models.IndexNDWI, Start: req.Start, End: req.End, IntervalDays: 5})
	if len(ndwi) != len(a) {
		t.Fatalf("ndwi len = %d, want %d", len(ndwi), len(a))
	}
	if ndwi[0].Value >= a[0].Value {
		t.Errorf("ndwi %v should sit below ndvi %v", ndwi[0].Value, a[0].Value)
	}
}

func TestCacheCodec(t *testing.T) {
	in := []models.IndexPoint{
		{Date: day("2024-06-01"), Value: 0.41, CloudCoverage: sql.NullFloat64{Float64: 12, Valid: true}},
		{Date: day("2024-06-06"), Value: 0.45},
	}
	data, err := encodeCached(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeCached(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || !out[0].CloudCoverage.Valid || out[1].CloudCoverage.Valid {
		t.Errorf("decoded = %+v", out)
	}
	if got := cacheKey(Request{FieldID: "f1", Index: models.IndexNDVI, Start: day("2024-06-01"), End: day("2024-06-30"), IntervalDays: 5}); got != "cropwatch:series:f1:ndvi:2024-06-01:2024-06-30:5" {
		t.Errorf("cacheKey = %q", got)
	}
}

type countingProvider struct {
	calls int
}

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) GetSeries(ctx context.Context, req Request) ([]models.IndexPoint, error) {
	c.calls++
	return []models.IndexPoint{{Date: req.Start, Value: 0.5}}, nil
}

func TestCachedProvider_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	req := Request{FieldID: fmt.Sprintf("test-%d", time.Now().UnixNano()), Index: models.IndexNDVI, Start: day("2024-06-01"), End: day("2024-06-02")}
	defer client.Del(ctx, cacheKey(req))

	next := &countingProvider{}
	p := NewCachedProvider(next, client, time.Minute)
	for i := 0; i < 2; i++ {
		points, err := p.GetSeries(ctx, req)
		if err != nil {
			t.Fatalf("GetSeries: %v", err)
		}
		if len(points) != 1 {
			t.Fatalf("len = %d, want 1", len(points))
		}
	}
	if next.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", next.calls)
	}
}

func TestCachedProvider_FallsThroughOnRedisError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	next := &countingProvider{}
	p := NewCachedProvider(next, client, time.Minute)
	points, err := p.GetSeries(context.Background(), Request{FieldID: "f1", Index: models.IndexNDVI, Start: day("2024-06-01"), End: day("2024-06-02")})
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(points) != 1 || next.calls != 1 {
		t.Errorf("points = %d, calls = %d", len(points), next.calls)
	}
}
