// Package metrics exposes the ledger's instrumentation hooks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Hooks receives ledger instrumentation events. Implementations must be
// safe for concurrent use.
type Hooks interface {
	// ObserveOperation records one ledger call: op is "start" or "complete",
	// status is "ok" or the error kind.
	ObserveOperation(op, status string, d time.Duration)
	// IncConflict counts a conflict rejection by kind.
	IncConflict(op, kind string)
	// IncRetry counts a transaction retried after a transient failure.
	IncRetry(op string)
}

type nopHooks struct{}

// Nop returns hooks that record nothing.
func Nop() Hooks { return nopHooks{} }

func (nopHooks) ObserveOperation(string, string, time.Duration) {}
func (nopHooks) IncConflict(string, string)                     {}
func (nopHooks) IncRetry(string)                                {}

// Prometheus implements Hooks with client_golang collectors.
type Prometheus struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	conflicts *prometheus.CounterVec
	retries   *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
// A nil reg skips registration.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracking",
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger calls by operation and outcome.",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracking",
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Ledger call latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracking",
			Subsystem: "ledger",
			Name:      "conflicts_total",
			Help:      "Start and complete calls rejected by a conflict.",
		}, []string{"op", "kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracking",
			Subsystem: "ledger",
			Name:      "retries_total",
			Help:      "Transactions retried after a transient storage failure.",
		}, []string{"op"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{p.calls, p.latency, p.conflicts, p.retries} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveOperation(op, status string, d time.Duration) {
	p.calls.WithLabelValues(op, status).Inc()
	p.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) IncConflict(op, kind string) {
	p.conflicts.WithLabelValues(op, kind).Inc()
}

func (p *Prometheus) IncRetry(op string) {
	p.retries.WithLabelValues(op).Inc()
}
