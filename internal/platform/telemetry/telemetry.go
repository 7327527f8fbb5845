// Package telemetry records calculation-pass metrics (counters, gauges,
// histograms) using only standard library constructs and renders them in the
// Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds all configuration for the telemetry provider.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
}

// metricsOn returns whether metrics are enabled (defaults to true).
func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "mmecalc"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// ---------------------------------------------------------------------------
// Pass durations
// ---------------------------------------------------------------------------

// passDurations buckets calculation pass wall times in seconds. Buckets are
// kept cumulative, the form the exposition needs.
type passDurations struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // counts[i] = passes that took <= bounds[i]
	n      int64
	total  float64
}

func newPassDurations(bounds []float64) *passDurations {
	return &passDurations{bounds: bounds, counts: make([]int64, len(bounds))}
}

func (h *passDurations) observe(d time.Duration) {
	secs := d.Seconds()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.n++
	h.total += secs
	for i, b := range h.bounds {
		if secs <= b {
			h.counts[i]++
		}
	}
}

// snapshot copies the buckets so the exposition can be written unlocked.
func (h *passDurations) snapshot() (counts []int64, n int64, total float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.counts...), h.n, h.total
}

// ---------------------------------------------------------------------------
// Int64 store, used for both counters and gauges
// ---------------------------------------------------------------------------

type int64Store struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newInt64Store() *int64Store {
	return &int64Store{items: make(map[string]*int64)}
}

func (s *int64Store) ptr(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[key]; !ok {
		p = new(int64)
		s.items[key] = p
	}
	return p
}

func (s *int64Store) add(key string, delta int64) { atomic.AddInt64(s.ptr(key), delta) }

func (s *int64Store) set(key string, val int64) { atomic.StoreInt64(s.ptr(key), val) }

func (s *int64Store) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// sortedSnapshot returns keys in lexical order so exposition output is stable.
func (s *int64Store) sortedSnapshot() ([]string, map[string]int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	keys := make([]string, 0, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, cp
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Metric names.
const (
	MetricPasses       = "mme.calc.passes"
	MetricExclusions   = "mme.calc.exclusions"
	MetricLookupMisses = "mme.calc.lookup_misses"
	MetricUndetermined = "mme.calc.undetermined"
	MetricRevision     = "mme.session.revision"
	MetricListeners    = "mme.session.listeners"
	MetricPassDuration = "mme.calc.pass.duration"
)

// defaultDurationBuckets are pass-duration boundaries in seconds. A pass is
// an in-memory computation, so the buckets sit well below a millisecond.
var defaultDurationBuckets = []float64{
	0.000_01, 0.000_05, 0.000_1, 0.000_5, 0.001, 0.005, 0.01, 0.05,
}

// Pass describes one completed calculation pass.
type Pass struct {
	Trigger      string
	Revision     uint64
	Duration     time.Duration
	Exclusions   int
	LookupMisses int
	Undetermined bool
}

// Provider manages all metric state. A nil *Provider is a valid no-op
// recorder.
type Provider struct {
	cfg      Config
	duration *passDurations
	counters *int64Store
	gauges   *int64Store
}

// NewProvider creates and initialises the telemetry provider.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:      cfg,
		duration: newPassDurations(defaultDurationBuckets),
		counters: newInt64Store(),
		gauges:   newInt64Store(),
	}
}

// Resource returns the resource attributes attached to the exposition.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// RecordPass folds one pass into the metrics.
func (p *Provider) RecordPass(pass Pass) {
	if p == nil || !p.cfg.metricsOn() {
		return
	}
	trigger := pass.Trigger
	if trigger == "" {
		trigger = "unknown"
	}
	p.counters.add(labelsKey(MetricPasses, trigger), 1)
	p.counters.add(MetricExclusions, int64(pass.Exclusions))
	p.counters.add(MetricLookupMisses, int64(pass.LookupMisses))
	if pass.Undetermined {
		p.counters.add(MetricUndetermined, 1)
	}
	p.gauges.set(MetricRevision, int64(pass.Revision))
	p.duration.observe(pass.Duration)
}

// SetListeners records the number of registered change listeners.
func (p *Provider) SetListeners(n int) {
	if p == nil || !p.cfg.metricsOn() {
		return
	}
	p.gauges.set(MetricListeners, int64(n))
}

// Counter returns the value of a counter. Pass counters take the trigger as
// the single label.
func (p *Provider) Counter(name string, labels ...string) int64 {
	if p == nil {
		return 0
	}
	return p.counters.get(labelsKey(name, labels...))
}

// Gauge returns the current value of the named gauge.
func (p *Provider) Gauge(name string) int64 {
	if p == nil {
		return 0
	}
	return p.gauges.get(name)
}

// PassCount returns the number of recorded pass-duration observations.
func (p *Provider) PassCount() int64 {
	if p == nil {
		return 0
	}
	_, n, _ := p.duration.snapshot()
	return n
}

func labelsKey(name string, labels ...string) string {
	if len(labels) == 0 {
		return name
	}
	return name + "|" + strings.Join(labels, "|")
}

// ---------------------------------------------------------------------------
// Text exposition
// ---------------------------------------------------------------------------

// WriteText writes all metrics in Prometheus text exposition format.
func (p *Provider) WriteText(w io.Writer) error {
	if p == nil {
		return nil
	}
	var b strings.Builder

	keys, counters := p.counters.sortedSnapshot()
	b.WriteString("# HELP mme_calc_passes_total Calculation passes by trigger.\n")
	b.WriteString("# TYPE mme_calc_passes_total counter\n")
	for _, key := range keys {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 && parts[0] == MetricPasses {
			fmt.Fprintf(&b, "mme_calc_passes_total{trigger=%q} %d\n", parts[1], counters[key])
		}
	}
	b.WriteByte('\n')

	simple := []struct {
		promName, otelName, typ, help string
		store                         *int64Store
	}{
		{"mme_calc_exclusions_total", MetricExclusions, "counter", "Dose rows excluded from the MME total.", p.counters},
		{"mme_calc_lookup_misses_total", MetricLookupMisses, "counter", "Dose rows with no conversion factor.", p.counters},
		{"mme_calc_undetermined_total", MetricUndetermined, "counter", "Passes whose total was undetermined.", p.counters},
		{"mme_session_revision", MetricRevision, "gauge", "Revision of the last published snapshot.", p.gauges},
		{"mme_session_listeners", MetricListeners, "gauge", "Registered snapshot listeners.", p.gauges},
	}
	for _, m := range simple {
		fmt.Fprintf(&b, "# HELP %s %s\n", m.promName, m.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", m.promName, m.typ)
		fmt.Fprintf(&b, "%s %d\n", m.promName, m.store.get(m.otelName))
		b.WriteByte('\n')
	}

	writeHistogram(&b, "mme_calc_pass_duration_seconds",
		"Duration of calculation passes in seconds.", p.duration)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeHistogram(b *strings.Builder, name, help string, h *passDurations) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	counts, n, total := h.snapshot()
	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, bound, counts[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, n)
	fmt.Fprintf(b, "%s_sum %g\n", name, total)
	fmt.Fprintf(b, "%s_count %d\n", name, n)
}
