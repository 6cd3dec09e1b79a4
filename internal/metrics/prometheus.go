// Package metrics exposes reconciliation pass metrics in Prometheus format.
//
// ddnsfw is a one-shot process started by a scheduler, so there is no
// scrape endpoint. Each pass fills a private registry and, when configured,
// writes it to a node_exporter textfile collector directory.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ddnsfw"

// Registry holds all pass metrics. A nil *Registry is valid and records
// nothing.
type Registry struct {
	reg *prometheus.Registry

	// Pass metrics
	LastRunTimestamp     prometheus.Gauge
	LastSuccessTimestamp prometheus.Gauge
	RunDuration          prometheus.Gauge
	RunOutcome           *prometheus.GaugeVec

	// Resolution metrics
	Entries            prometheus.Gauge
	ResolutionFailures *prometheus.CounterVec

	// Firewall metrics
	RulesLive       prometheus.Gauge
	RulesDesired    prometheus.Gauge
	RulesPreserved  prometheus.Gauge
	RuleOperations  *prometheus.CounterVec
	LockWaitSeconds prometheus.Gauge

	// Cache metrics
	CacheGeneration prometheus.Gauge
}

// Outcomes is the fixed label set of RunOutcome.
var Outcomes = []string{"ok", "noop", "dry_run", "busy", "partial", "config_error", "error"}

// New creates a registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	r := &Registry{reg: reg}

	r.LastRunTimestamp = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last reconciliation pass",
	})

	r.LastSuccessTimestamp = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last pass that completed without firewall errors",
	})

	r.RunDuration = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_duration_seconds",
		Help:      "Wall time of the last reconciliation pass",
	})

	r.RunOutcome = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_outcome",
		Help:      "1 for the outcome of the last pass, 0 for all others",
	}, []string{"outcome"})

	r.Entries = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entries",
		Help:      "Number of configured hostname:port entries",
	})

	r.ResolutionFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolution_failures_total",
		Help:      "Hostname resolution failures in the last pass",
	}, []string{"reason"})

	r.RulesLive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rules_live",
		Help:      "Tagged rules found in the firewall at the start of the pass",
	})

	r.RulesDesired = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rules_desired",
		Help:      "Rules implied by successfully resolved entries",
	})

	r.RulesPreserved = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rules_preserved",
		Help:      "Live rules kept because their entry failed to resolve",
	})

	r.RuleOperations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_operations_total",
		Help:      "Firewall rule mutations in the last pass",
	}, []string{"op", "result"})

	r.LockWaitSeconds = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for the pass lock",
	})

	r.CacheGeneration = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_generation",
		Help:      "Generation of the state cache after the last pass",
	})

	for _, o := range Outcomes {
		r.RunOutcome.WithLabelValues(o).Set(0)
	}

	return r
}

// Gatherer returns the underlying registry for export.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile atomically writes the registry in text exposition format.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}

// ObserveRun records the end of a pass.
func (r *Registry) ObserveRun(outcome string, started time.Time, duration time.Duration, success bool) {
	if r == nil {
		return
	}
	r.LastRunTimestamp.Set(float64(started.Unix()))
	r.RunDuration.Set(duration.Seconds())
	for _, o := range Outcomes {
		v := 0.0
		if o == outcome {
			v = 1
		}
		r.RunOutcome.WithLabelValues(o).Set(v)
	}
	if success {
		r.LastSuccessTimestamp.Set(float64(started.Unix()))
	}
}

// ObserveResolution records the configured entry count and each failure reason.
func (r *Registry) ObserveResolution(entries int, failureReasons []string) {
	if r == nil {
		return
	}
	r.Entries.Set(float64(entries))
	for _, reason := range failureReasons {
		r.ResolutionFailures.WithLabelValues(reason).Inc()
	}
}

// ObservePlan records the sizes of the sets a pass computed.
func (r *Registry) ObservePlan(live, desired, preserved int) {
	if r == nil {
		return
	}
	r.RulesLive.Set(float64(live))
	r.RulesDesired.Set(float64(desired))
	r.RulesPreserved.Set(float64(preserved))
}

// ObserveOperation counts one add or remove.
func (r *Registry) ObserveOperation(op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.RuleOperations.WithLabelValues(op, result).Inc()
}

// ObserveLockWait records how long acquiring the lock took.
func (r *Registry) ObserveLockWait(d time.Duration) {
	if r == nil {
		return
	}
	r.LockWaitSeconds.Set(d.Seconds())
}

// ObserveCache records the cache generation that was written.
func (r *Registry) ObserveCache(generation uint64) {
	if r == nil {
		return
	}
	r.CacheGeneration.Set(float64(generation))
}
