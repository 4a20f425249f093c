// Package metrics exposes Prometheus collectors for the scan pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"site_watcher/internal/model"
)

// Scan outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	registerOnce sync.Once

	scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "site_watcher_scans_total",
		Help: "Completed scans by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "site_watcher_scan_duration_seconds",
		Help:    "Duration of scan bodies.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	changesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "site_watcher_changes_total",
		Help: "Committed change records by type.",
	}, []string{"type"})

	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "site_watcher_notifications_total",
		Help: "Notification deliveries by channel and status.",
	}, []string{"channel", "status"})

	trackedAnnouncements = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "site_watcher_tracked_announcements",
		Help: "Announcements currently present on the listing.",
	})
)

// MustRegister registers the package collectors with registerer once.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			scansTotal,
			scanDuration,
			changesTotal,
			notificationsTotal,
			trackedAnnouncements,
		)
	})
}

// ObserveScan records a finished scan.
func ObserveScan(trigger string, err error, d time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	scansTotal.WithLabelValues(trigger, outcome).Inc()
	scanDuration.Observe(d.Seconds())
}

// AddChanges counts committed changes by type.
func AddChanges(changes []model.Change) {
	for _, ch := range changes {
		changesTotal.WithLabelValues(string(ch.Type)).Inc()
	}
}

// ObserveNotification records delivery counts for one channel.
func ObserveNotification(channel string, delivered, failed int) {
	if delivered > 0 {
		notificationsTotal.WithLabelValues(channel, "delivered").Add(float64(delivered))
	}
	if failed > 0 {
		notificationsTotal.WithLabelValues(channel, "failed").Add(float64(failed))
	}
}

// SetTracked sets the number of active announcements.
func SetTracked(n int) {
	trackedAnnouncements.Set(float64(n))
}
