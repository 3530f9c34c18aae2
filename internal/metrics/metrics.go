// Package metrics holds the Prometheus collectors of the relay. Collectors
// live on an owned registry so several instances can coexist in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery kinds.
const (
	KindText   = "text"
	KindUpload = "upload"
	KindResend = "resend"
)

// Asset skip reasons.
const (
	SkipTooLarge       = "too_large"
	SkipNoTargets      = "no_targets"
	SkipDownloadFailed = "download_failed"
	SkipUploadFailed   = "upload_failed"
)

// Metrics methods are nil-safe; a nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	webhookEvents  *prometheus.CounterVec
	handleDuration prometheus.Histogram
	deliveries     *prometheus.CounterVec
	assetsSkipped  *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cleanupRuns    prometheus.Counter
	cleanupRecords *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasebot_webhook_events_total",
				Help: "Webhook requests by outcome status",
			},
			[]string{"status"},
		),
		handleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "releasebot_webhook_handle_duration_seconds",
				Help:    "Time spent fanning out one release event",
				Buckets: prometheus.DefBuckets,
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasebot_deliveries_total",
				Help: "Outbound Telegram sends by kind and result",
			},
			[]string{"kind", "result"},
		),
		assetsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasebot_assets_skipped_total",
				Help: "Release assets not delivered, by reason",
			},
			[]string{"reason"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasebot_file_cache_lookups_total",
				Help: "Asset file id cache lookups by result",
			},
			[]string{"result"},
		),
		cleanupRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "releasebot_cleanup_runs_total",
				Help: "Retention sweeps completed",
			},
		),
		cleanupRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasebot_cleanup_records_total",
				Help: "Expired delivery records by sweep result",
			},
			[]string{"result"},
		),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookEvents,
		m.handleDuration,
		m.deliveries,
		m.assetsSkipped,
		m.cacheLookups,
		m.cleanupRuns,
		m.cleanupRecords,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) WebhookEvent(status string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveHandle(d time.Duration) {
	if m == nil {
		return
	}
	m.handleDuration.Observe(d.Seconds())
}

func (m *Metrics) Delivery(kind string, ok bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, result(ok, "ok", "failed")).Inc()
}

func (m *Metrics) AssetSkipped(reason string) {
	if m == nil {
		return
	}
	m.assetsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result(hit, "hit", "miss")).Inc()
}

func (m *Metrics) CleanupRun() {
	if m == nil {
		return
	}
	m.cleanupRuns.Inc()
}

func (m *Metrics) CleanupRecord(removed bool) {
	if m == nil {
		return
	}
	m.cleanupRecords.WithLabelValues(result(removed, "removed", "kept")).Inc()
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
