package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_provider_calls_total",
			Help: "Total satellite index provider calls",
		},
		[]string{"provider", "index", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropwatch_provider_latency_seconds",
			Help:    "Satellite index provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "index"},
	)

	ProviderCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_provider_cache_total",
			Help: "Provider cache lookups by result",
		},
		[]string{"result"},
	)

	IndexPointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_index_points_ingested_total",
			Help: "Total index points stored by the scheduler",
		},
		[]string{"index"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_analyses_total",
			Help: "Total analyses run, by overall trend and water stress level",
		},
		[]string{"trend", "stress_level"},
	)

	HotspotsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_hotspots_detected_total",
			Help: "Total hotspots detected, by type",
		},
		[]string{"type"},
	)

	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_alerts_published_total",
			Help: "Field alerts published, by kind and status",
		},
		[]string{"kind", "status"},
	)
)
