// Package metrics exposes scan, planner and radar activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/micro-ha/ble-radar/internal/planner"
)

const namespace = "ble_radar"

// Metrics is a prometheus.Collector for the scan pipeline.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal       *prometheus.CounterVec
	scanDevices      prometheus.Histogram
	mergeDuration    prometheus.Histogram
	knownDevices     prometheus.Gauge
	plannerRuns      *prometheus.CounterVec
	plannerOutcomes  *prometheus.CounterVec
	plannerDuration  prometheus.Histogram
	plannerParallel  prometheus.Gauge
	plannerErrorRate prometheus.Gauge
	radarRuns        prometheus.Counter
	radarMatches     prometheus.Counter
	radarDuration    prometheus.Histogram
}

// New creates and registers the collector.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of scan cycles",
		},
		[]string{"status"}, // status: success, error, skipped
	)
	m.scanDevices = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_devices",
		Help:      "Distinct addresses seen per scan",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
	m.mergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "merge_duration_seconds",
		Help:      "Time taken to merge and persist a scan batch",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.knownDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "known_devices",
		Help:      "Devices in the last batch known for at least the known device period",
	})

	m.plannerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_runs_total",
			Help:      "Deep analysis planning calls by result",
		},
		[]string{"result"}, // result: ran, busy, cooldown, no_eligible
	)
	m.plannerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_device_outcomes_total",
			Help:      "Per-device deep analysis outcomes",
		},
		[]string{"outcome"},
	)
	m.plannerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "planner_run_duration_seconds",
		Help:      "Wall time of deep analysis runs",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	m.plannerParallel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "planner_parallelism",
		Help:      "Current deep analysis parallelism",
	})
	m.plannerErrorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "planner_error_rate",
		Help:      "Error rate of the last deep analysis run",
	})

	m.radarRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "radar_profiles_evaluated_total",
		Help:      "Profiles evaluated against scan batches",
	})
	m.radarMatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "radar_profile_matches_total",
		Help:      "Profiles that matched at least one device",
	})
	m.radarDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "radar_evaluation_duration_seconds",
		Help:      "Time taken to evaluate profiles for a batch",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.scansTotal, m.scanDevices, m.mergeDuration, m.knownDevices,
		m.plannerRuns, m.plannerOutcomes, m.plannerDuration, m.plannerParallel, m.plannerErrorRate,
		m.radarRuns, m.radarMatches, m.radarDuration,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordScan records a finished scan cycle.
func (m *Metrics) RecordScan(status string, devices int) {
	m.scansTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.scanDevices.Observe(float64(devices))
	}
}

// RecordMerge records a persisted batch.
func (m *Metrics) RecordMerge(duration time.Duration, knownDevices int) {
	m.mergeDuration.Observe(duration.Seconds())
	m.knownDevices.Set(float64(knownDevices))
}

// ObservePlannerRun records one planning call.
func (m *Metrics) ObservePlannerRun(stats planner.RunStats) {
	m.plannerParallel.Set(float64(stats.Parallelism))
	if stats.SkipReason != planner.SkipNone {
		m.plannerRuns.WithLabelValues(string(stats.SkipReason)).Inc()
		return
	}
	m.plannerRuns.WithLabelValues("ran").Inc()
	m.plannerDuration.Observe(stats.Duration.Seconds())
	m.plannerErrorRate.Set(stats.ErrorRate)
	m.plannerOutcomes.WithLabelValues("updated").Add(float64(stats.Updated))
	m.plannerOutcomes.WithLabelValues("timeout").Add(float64(stats.Timeouts))
	m.plannerOutcomes.WithLabelValues("error").Add(float64(stats.Errors))
	m.plannerOutcomes.WithLabelValues("exhausted").Add(float64(stats.Exhausted))
	m.plannerOutcomes.WithLabelValues("abandoned").Add(float64(stats.Abandoned))
}

// ObserveRadarRun records one profile evaluation pass.
func (m *Metrics) ObserveRadarRun(evaluated, matched int, duration time.Duration) {
	m.radarRuns.Add(float64(evaluated))
	m.radarMatches.Add(float64(matched))
	m.radarDuration.Observe(duration.Seconds())
}
