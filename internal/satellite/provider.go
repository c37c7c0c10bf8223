// Package satellite holds the implementations of the satellite index
// provider: remote HTTP and FTP sources, the local store cache, a redis
// response cache and a synthetic source for development.
package satellite

import (
	"context"
	"sort"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

// DateLayout is the calendar-date format used on every provider wire format.
const DateLayout = "2006-01-02"

type Request struct {
	FieldID      string
	Index        models.IndexKind
	Start        time.Time
	End          time.Time
	IntervalDays int
}

// Provider returns one index series for one field, sorted by date ascending.
type Provider interface {
	Name() string
	GetSeries(ctx context.Context, req Request) ([]models.IndexPoint, error)
}

// DateOnly truncates t to midnight UTC of its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
}

func sortPoints(points []models.IndexPoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
}

// thin keeps points inside [start, end], at most one per intervalDays-wide
// bucket counted from start. The grid is anchored on start rather than on the
// previous kept point so every index of a field thins to the same dates.
// Input must be sorted.
func thin(points []models.IndexPoint, start, end time.Time, intervalDays int) []models.IndexPoint {
	start, end = DateOnly(start), DateOnly(end)
	out := make([]models.IndexPoint, 0, len(points))
	bucket := -1
	for _, p := range points {
		d := DateOnly(p.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		if intervalDays > 1 {
			b := int(d.Sub(start)/(24*time.Hour)) / intervalDays
			if b == bucket {
				continue
			}
			bucket = b
		}
		out = append(out, p)
	}
	return out
}
