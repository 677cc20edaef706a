// Package datadog submits internal/metrics events to the Datadog intake.
//
// Events are aggregated per metric name and label set. Counters are summed and
// histograms keep their raw samples; a background loop submits and resets the
// aggregate every FlushEvery, and Close submits whatever is left.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"autotable/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "autotable".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:loader"}).
	Tags []string

	// FlushEvery defaults to one minute.
	FlushEvery time.Duration

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter submitter
}

// submitter is the part of *datadogV2.MetricsApi the backend uses.
type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesKey identifies one Datadog series: a metric name plus its sorted
// label tags joined by NUL.
type seriesKey struct {
	name string
	tags string
}

// Backend implements metrics.Backend.
type Backend struct {
	api submitter
	ctx context.Context

	baseTags  []string
	every     time.Duration
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	stop      chan struct{}
	done      chan struct{}

	mu       sync.Mutex
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend starts a backend. The API key and site come from DD_API_KEY and
// DD_SITE through the client's default context; network errors surface from
// Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "autotable"
	}
	every := opts.FlushEvery
	if every <= 0 {
		every = time.Minute
	}

	b := &Backend{
		api:       opts.submitter,
		ctx:       dd.NewDefaultContext(parent),
		baseTags:  append([]string{envTag(), "job:" + job}, opts.Tags...),
		every:     every,
		now:       opts.now,
		newTicker: opts.newTicker,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[seriesKey]float64),
		samples:   make(map[seriesKey][]float64),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newTicker == nil {
		b.newTicker = time.NewTicker
	}

	go b.loop()
	return b, nil
}

// envTag reads ENV, then DD_ENV.
func envTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.done)
	t := b.newTicker(b.every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stop:
			return
		}
	}
}

// Close stops the flush loop and submits the remaining aggregate. Call once.
func (b *Backend) Close() error {
	close(b.stop)
	<-b.done
	return b.Flush()
}

// IncCounter implements metrics.Backend. Non-positive deltas are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 || name == "" {
		return
	}
	k := keyOf(name, labels)
	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative values are dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name == "" {
		return
	}
	k := keyOf(name, labels)
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// Flush submits and resets the aggregate. The aggregate is reset even when
// the submission fails.
func (b *Backend) Flush() error {
	b.mu.Lock()
	counters, samples := b.counters, b.samples
	b.counters = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	b.mu.Unlock()

	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.series(counters, samples, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// series renders counters as COUNT points and each sample set as
// p50/p90/p95/p99/max/samples gauges, ordered by metric name then tags.
func (b *Backend) series(counters map[seriesKey]float64, samples map[seriesKey][]float64, ts int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for _, k := range sortedKeys(counters) {
		out = append(out, point(metricName(k.name), datadogV2.METRICINTAKETYPE_COUNT, counters[k], b.tags(k), ts))
	}
	for _, k := range sortedKeys(samples) {
		s := append([]float64(nil), samples[k]...)
		sort.Float64s(s)
		name, tags := metricName(k.name), b.tags(k)
		gauge := datadogV2.METRICINTAKETYPE_GAUGE
		out = append(out,
			point(name+".p50", gauge, nearestRank(s, 0.50), tags, ts),
			point(name+".p90", gauge, nearestRank(s, 0.90), tags, ts),
			point(name+".p95", gauge, nearestRank(s, 0.95), tags, ts),
			point(name+".p99", gauge, nearestRank(s, 0.99), tags, ts),
			point(name+".max", gauge, s[len(s)-1], tags, ts),
			point(name+".samples", gauge, float64(len(s)), tags, ts),
		)
	}
	return out
}

func (b *Backend) tags(k seriesKey) []string {
	out := make([]string, 0, len(b.baseTags)+4)
	out = append(out, b.baseTags...)
	if k.tags != "" {
		out = append(out, strings.Split(k.tags, "\x00")...)
	}
	return out
}

func point(metric string, typ datadogV2.MetricIntakeType, v float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(v)}},
		Tags:   tags,
	}
}

func keyOf(name string, labels metrics.Labels) seriesKey {
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return seriesKey{name: name, tags: strings.Join(tags, "\x00")}
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

// metricName turns "autotable_records_total" into "autotable.records_total".
func metricName(name string) string {
	return strings.Replace(name, "_", ".", 1)
}

// nearestRank expects s sorted and non-empty.
func nearestRank(s []float64, p float64) float64 {
	idx := int(p*float64(len(s)-1) + 0.5)
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}

// ParseTagsCSV splits "env:prod,service:loader" into tags.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WrapInitErr prefixes backend construction errors.
func WrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
