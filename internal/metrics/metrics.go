// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sampleby"

// histograms
var (
	// buckets for seconds resolutions of histograms
	buckets = []float64{.001, .005, .025, .1, .5, 1, 5}

	WriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Time taken to persist a write request.",
			Buckets:   buckets,
		},
	)
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time taken to read raw samples.",
			Buckets:   buckets,
		},
	)
	SampleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "Time taken to answer a sample-by query, by granularity unit.",
			Buckets:   buckets,
		},
		[]string{"unit"},
	)
)

// counters
var (
	SamplesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_written_total",
		Help:      "Samples persisted to storage.",
	})
	RowsSampled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_sampled_total",
		Help:      "Samples assigned to a bucket by sample-by queries.",
	})
	BucketsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buckets_emitted_total",
		Help:      "Buckets returned by sample-by queries.",
	}, []string{"kind"})
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Sample-by result cache lookups.",
	}, []string{"result"})
	WALReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wal_replayed_entries_total",
		Help:      "Write-ahead log entries replayed at startup.",
	})
)

// gauges
var (
	SeriesIndexed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "series_indexed",
		Help:      "Series known to the label index.",
	})
)

func init() {
	prometheus.DefaultRegisterer.MustRegister(
		WriteDuration,
		QueryDuration,
		SampleDuration,
		SamplesWritten,
		RowsSampled,
		BucketsEmitted,
		CacheRequests,
		WALReplayed,
		SeriesIndexed,
	)
}
