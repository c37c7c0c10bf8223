package models

import (
	"database/sql"
	"time"
)

type Field struct {
	FieldID   string
	Name      string
	Crop      string
	Latitude  float64
	Longitude float64
	AreaHa    sql.NullFloat64
	Active    bool
	CreatedAt time.Time
}

// IndexKind names one of the spectral indices supplied by the satellite provider.
type IndexKind string

const (
	IndexNDVI IndexKind = "ndvi"
	IndexNDWI IndexKind = "ndwi"
	IndexEVI  IndexKind = "evi"
)

// AllIndices is the fetch order used by the engine and the scheduler.
var AllIndices = []IndexKind{IndexNDVI, IndexNDWI, IndexEVI}

func (k IndexKind) Valid() bool {
	switch k {
	case IndexNDVI, IndexNDWI, IndexEVI:
		return true
	}
	return false
}

// IndexPoint is one provider sample for one index on one date.
type IndexPoint struct {
	Date          time.Time
	Value         float64
	CloudCoverage sql.NullFloat64
}

type IngestRun struct {
	ID            int64
	Source        string
	FieldID       string
	Index         IndexKind
	StartedAt     time.Time
	CompletedAt   sql.NullTime
	Success       bool
	RecordsParsed sql.NullInt64
	RecordsStored sql.NullInt64
	ErrorMessage  sql.NullString
}

// StoredResult is an analysis result as persisted in the results store.
type StoredResult struct {
	ID             string
	FieldID        string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OverallTrend   string
	StressLevel    string
	GrowthStage    string
	PredictedYield float64
	HotspotCount   int
	Result         *TimeSeriesResult
	CreatedAt      time.Time
}
