// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package. Metrics accumulate in a private registry and are
// pushed on Flush.
package prompush

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"autotable/internal/metrics"
)

// Backend implements metrics.Backend on top of a Pushgateway.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	records    *prometheus.CounterVec
	tables     *prometheus.CounterVec

	mu sync.Mutex
}

// NewBackend registers the ingestion metrics in a fresh registry and targets
// gatewayURL with the given job name.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty gateway url")
	}
	if job == "" {
		job = "autotable"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.OperationsTotal,
			Help: "Ingestion operations by outcome.",
		}, []string{"op", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.OperationDuration,
			Help:    "Ingestion operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"op", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records inserted, by insert path.",
		}, []string{"path"}),
		tables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.TablesCreated,
			Help: "Tables created from records.",
		}, []string{"backend"}),
	}

	for _, c := range []prometheus.Collector{b.operations, b.durations, b.records, b.tables} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.OperationsTotal:
		b.operations.WithLabelValues(labels["op"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(labels["path"]).Add(delta)
	case metrics.TablesCreated:
		b.tables.WithLabelValues(labels["backend"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.OperationDuration || value < 0 {
		return
	}
	b.durations.WithLabelValues(labels["op"], labels["status"]).Observe(value)
}

// Flush pushes the whole registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
