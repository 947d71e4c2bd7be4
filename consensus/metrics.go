package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "consensus"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Current view.
	View metrics.Gauge

	// Number of transactions waiting in the pool.
	OutstandingTransactions metrics.Gauge
	// Total size of the transactions waiting in the pool, in bytes.
	OutstandingTransactionsBytes metrics.Gauge
	// Number of decided transactions seen before they reached the pool.
	SeenNotHeld metrics.Gauge

	// Number of votes accepted by collectors.
	VotesReceived metrics.Counter
	// Number of certificates formed by collectors.
	CertificatesFormed metrics.Counter
	// Number of views skipped ahead by more than one.
	ViewJumps metrics.Counter
	// Number of views in which this node was leader but produced no payload.
	MissedLeaderViews metrics.Counter
	// Number of leaves decided.
	DecidedLeaves metrics.Counter
	// Number of transactions per proposed payload.
	PayloadTxs metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	withLabel := func(name string) []string {
		return append(append([]string{}, labels...), name)
	}
	return &Metrics{
		View: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "view",
			Help:      "Current view.",
		}, labels).With(labelsAndValues...),
		OutstandingTransactions: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "outstanding_transactions",
			Help:      "Number of transactions waiting to be proposed.",
		}, labels).With(labelsAndValues...),
		OutstandingTransactionsBytes: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "outstanding_transactions_bytes",
			Help:      "Total size of the transactions waiting to be proposed.",
		}, labels).With(labelsAndValues...),
		SeenNotHeld: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "seen_not_held",
			Help:      "Number of decided transactions not yet received.",
		}, labels).With(labelsAndValues...),
		VotesReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_received",
			Help:      "Number of votes accepted by vote collectors.",
		}, withLabel("kind")).With(labelsAndValues...),
		CertificatesFormed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "certificates_formed",
			Help:      "Number of certificates formed.",
		}, withLabel("kind")).With(labelsAndValues...),
		ViewJumps: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "view_jumps",
			Help:      "Number of view changes that skipped views.",
		}, withLabel("task")).With(labelsAndValues...),
		MissedLeaderViews: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "missed_leader_views",
			Help:      "Number of views this node led without producing a payload.",
		}, labels).With(labelsAndValues...),
		DecidedLeaves: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "decided_leaves",
			Help:      "Number of decided leaves.",
		}, labels).With(labelsAndValues...),
		PayloadTxs: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "payload_txs",
			Help:      "Number of transactions per proposed payload.",
			Buckets:   stdprometheus.ExponentialBuckets(1, 2, 12),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		View:                         discard.NewGauge(),
		OutstandingTransactions:      discard.NewGauge(),
		OutstandingTransactionsBytes: discard.NewGauge(),
		SeenNotHeld:                  discard.NewGauge(),
		VotesReceived:                discard.NewCounter(),
		CertificatesFormed:           discard.NewCounter(),
		ViewJumps:                    discard.NewCounter(),
		MissedLeaderViews:            discard.NewCounter(),
		DecidedLeaves:                discard.NewCounter(),
		PayloadTxs:                   discard.NewHistogram(),
	}
}
