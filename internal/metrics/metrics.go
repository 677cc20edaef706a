// Package metrics is a small facade so ingestion code does not depend on any
// particular metrics system. A process installs one Backend at startup; the
// default discards everything.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the ingestion layer.
const (
	// OperationsTotal counts public operations; labels: op, status.
	OperationsTotal = "autotable_operations_total"
	// OperationDuration observes operation latency in seconds; labels: op, status.
	OperationDuration = "autotable_operation_duration_seconds"
	// RecordsTotal counts inserted records; label: path (mapped|statement).
	RecordsTotal = "autotable_records_total"
	// TablesCreated counts tables created from records; label: backend.
	TablesCreated = "autotable_tables_created_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b; nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

func Flush() error { return current().Flush() }

// RecordOperation counts one operation and observes its duration since start.
func RecordOperation(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"op": op, "status": status}
	b := current()
	b.IncCounter(OperationsTotal, 1, l)
	b.ObserveHistogram(OperationDuration, time.Since(start).Seconds(), l)
}
