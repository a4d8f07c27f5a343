// Package metrics exports token bucket registry activity to Prometheus.
//
//	recorder := metrics.NewRecorder("myapp")
//	if err := recorder.Register(prometheus.DefaultRegisterer); err != nil {
//	    log.Fatal(err)
//	}
//	registry, _ := tokenbucket.NewRegistry(cfg, tokenbucket.WithRecorder(recorder))
//
// Series are labelled by policy, never by client key, so cardinality stays
// bounded by the number of configured policies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/KanavDutta/tokenbucket/pkg/tokenbucket"
)

const subsystem = "tokenbucket"

// Result label values.
const (
	ResultAllowed  = "allowed"
	ResultRejected = "rejected"
)

// Ensure Recorder implements tokenbucket.Recorder
var _ tokenbucket.Recorder = (*Recorder)(nil)

// Recorder implements tokenbucket.Recorder with Prometheus collectors.
type Recorder struct {
	decisions     *prometheus.CounterVec
	tokensGranted *prometheus.CounterVec
	evicted       prometheus.Counter
	buckets       prometheus.Gauge
}

// NewRecorder creates a Recorder whose series are prefixed with namespace.
func NewRecorder(namespace string) *Recorder {
	return &Recorder{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "decisions_total",
				Help:      "Total number of consume decisions",
			},
			[]string{"policy", "result"},
		),
		tokensGranted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tokens_granted_total",
				Help:      "Total number of tokens granted",
			},
			[]string{"policy"},
		),
		evicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "buckets_evicted_total",
				Help:      "Total number of rested buckets removed by cleanup",
			},
		),
		buckets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "buckets",
				Help:      "Number of buckets held after the last cleanup",
			},
		),
	}
}

// Register registers every collector with reg.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.decisions, r.tokensGranted, r.evicted, r.buckets} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveConsume records one decision.
func (r *Recorder) ObserveConsume(policy string, tokens uint64, allowed bool) {
	if !allowed {
		r.decisions.WithLabelValues(policy, ResultRejected).Inc()
		return
	}
	r.decisions.WithLabelValues(policy, ResultAllowed).Inc()
	r.tokensGranted.WithLabelValues(policy).Add(float64(tokens))
}

// ObserveCleanup records one cleanup sweep.
func (r *Recorder) ObserveCleanup(removed, remaining int) {
	r.evicted.Add(float64(removed))
	r.buckets.Set(float64(remaining))
}
