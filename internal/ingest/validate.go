package ingest

import (
	"math"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

const (
	FlagValueOutOfRange = "value_out_of_range"
	FlagValueNaN        = "value_nan"
	FlagCloudInvalid    = "cloud_coverage_invalid"
	FlagFutureDate      = "future_date"
)

// rejecting flags drop the whole date; the others are repaired in place.
var rejecting = map[string]bool{
	FlagValueOutOfRange: true,
	FlagFutureDate:      true,
}

// ValidatePoint returns quality flags for one provider sample. Spectral
// indices are normalised differences so anything outside -1..1 is bogus.
func ValidatePoint(p models.IndexPoint, now time.Time) []string {
	var flags []string

	if math.IsNaN(p.Value) {
		flags = append(flags, FlagValueNaN)
	} else if p.Value < -1 || p.Value > 1 {
		flags = append(flags, FlagValueOutOfRange)
	}

	if p.CloudCoverage.Valid {
		if c := p.CloudCoverage.Float64; math.IsNaN(c) || c < 0 || c > 100 {
			flags = append(flags, FlagCloudInvalid)
		}
	}

	if p.Date.After(now) {
		flags = append(flags, FlagFutureDate)
	}

	return flags
}

// repair treats a missing value as 0 and clamps cloud coverage to 0..100.
func repair(p models.IndexPoint) models.IndexPoint {
	if math.IsNaN(p.Value) {
		p.Value = 0
	}
	if p.CloudCoverage.Valid {
		c := p.CloudCoverage.Float64
		if math.IsNaN(c) {
			p.CloudCoverage.Valid = false
		} else {
			p.CloudCoverage.Float64 = math.Max(0, math.Min(100, c))
		}
	}
	return p
}

func dateKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// FilterValid validates the series of one field together. A date with an
// out-of-range value or in the future in any index is dropped from every
// index so the stored series stay aligned. NaN values and invalid cloud
// coverage are repaired and kept. The returned map counts every flag seen
// and is nil when the input is clean.
func FilterValid(series map[models.IndexKind][]models.IndexPoint, now time.Time) (map[models.IndexKind][]models.IndexPoint, map[string]int) {
	var flagged map[string]int
	badDates := make(map[string]bool)

	for _, points := range series {
		for _, p := range points {
			for _, f := range ValidatePoint(p, now) {
				if flagged == nil {
					flagged = make(map[string]int)
				}
				flagged[f]++
				if rejecting[f] {
					badDates[dateKey(p.Date)] = true
				}
			}
		}
	}

	out := make(map[models.IndexKind][]models.IndexPoint, len(series))
	for index, points := range series {
		kept := make([]models.IndexPoint, 0, len(points))
		for _, p := range points {
			if badDates[dateKey(p.Date)] {
				continue
			}
			kept = append(kept, repair(p))
		}
		out[index] = kept
	}
	return out, flagged
}
