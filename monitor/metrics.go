package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/quantfall/arbengine/types"
)

// Metrics is the Prometheus-backed sink. All collectors live on a private
// registry so tests can instantiate it repeatedly without collisions.
type Metrics struct {
	registry *prometheus.Registry

	Opportunities prometheus.Counter
	Submissions   *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec
	ProfitTotal   prometheus.Counter
	VolumeTotal   prometheus.Counter
	ExecutionTime prometheus.Histogram
	InFlightSlots prometheus.Gauge
}

var _ Sink = (*Metrics)(nil)

// NewMetrics creates the sink with all collectors registered.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Opportunities: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Total number of opportunities surfaced by the detector",
		}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of bundles submitted, by strategy",
		}, []string{"strategy"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Total number of terminal results, by outcome",
		}, []string{"outcome"}),
		ProfitTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profit_realized_total",
			Help:      "Total realized profit in base units",
		}),
		VolumeTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_total",
			Help:      "Total landed volume in base units",
		}),
		ExecutionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_time_seconds",
			Help:      "Time from submission to terminal result",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		InFlightSlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_trades",
			Help:      "Number of currently occupied execution slots",
		}),
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OpportunitiesDetected(n int) {
	m.Opportunities.Add(float64(n))
}

func (m *Metrics) BundleSubmitted(kind types.StrategyKind) {
	m.Submissions.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) InFlight(n int) {
	m.InFlightSlots.Set(float64(n))
}

func (m *Metrics) ExecutionFinished(res *types.ExecutionResult) {
	m.Outcomes.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == types.OutcomeLanded {
		m.ProfitTotal.Add(float64(res.ProfitRealized))
		m.VolumeTotal.Add(float64(res.Volume))
	}
	if res.ExecutionTime > 0 {
		m.ExecutionTime.Observe(res.ExecutionTime.Seconds())
	}
}

// SuccessRate reads the outcome counters back and returns landed over total
// terminal results, or zero before any result arrived.
func (m *Metrics) SuccessRate() float64 {
	var landed, total float64
	for _, outcome := range []types.Outcome{
		types.OutcomeLanded, types.OutcomeReverted,
		types.OutcomeTimedOut, types.OutcomeRejectedByGuard,
	} {
		var d dto.Metric
		if err := m.Outcomes.WithLabelValues(outcome.String()).Write(&d); err != nil {
			continue
		}
		v := d.GetCounter().GetValue()
		total += v
		if outcome == types.OutcomeLanded {
			landed = v
		}
	}
	if total == 0 {
		return 0
	}
	return landed / total
}
