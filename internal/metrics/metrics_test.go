package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string]int
	labels   []Labels
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, hists: map[string]int{}}
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
	r.labels = append(r.labels, l)
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[name]++
}

func (r *recorder) Flush() error { return nil }

func TestRecordOperationUsesInstalledBackend(t *testing.T) {
	rec := newRecorder()
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	RecordOperation("insert_all", time.Now(), nil)
	RecordOperation("insert_all", time.Now(), errors.New("boom"))

	if rec.counters[OperationsTotal] != 2 {
		t.Fatalf("expected 2 operations, got %v", rec.counters[OperationsTotal])
	}
	if rec.hists[OperationDuration] != 2 {
		t.Fatalf("expected 2 duration samples, got %d", rec.hists[OperationDuration])
	}
	if rec.labels[0]["status"] != "ok" || rec.labels[1]["status"] != "error" {
		t.Fatalf("unexpected labels: %#v", rec.labels)
	}
}

func TestNilBackendRestoresNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(RecordsTotal, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop flush: %v", err)
	}
}
