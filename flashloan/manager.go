package flashloan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quantfall/arbengine/types"
)

// Manager selects the optimal provider for each loan: lowest fee among
// providers with sufficient pool liquidity.
type Manager struct {
	mu      sync.RWMutex
	metrics struct {
		providerSelections prometheus.CounterVec
		quoteLatency       prometheus.Histogram
		quotedVolume       prometheus.Counter
		errors             prometheus.CounterVec
	}
	providers []Provider
	logger    *zap.Logger
}

// NewManager creates a manager with no providers registered.
func NewManager(logger *zap.Logger) *Manager {
	m := &Manager{logger: logger}

	m.metrics.providerSelections = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_provider_selections_total",
		Help: "Number of times each provider was selected",
	}, []string{"provider"})

	m.metrics.quoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flashloan_quote_latency_seconds",
		Help:    "Latency of loan quote selection",
		Buckets: prometheus.DefBuckets,
	})

	m.metrics.quotedVolume = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashloan_quoted_volume_total",
		Help: "Total principal quoted across providers",
	})

	m.metrics.errors = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_errors_total",
		Help: "Number of flash loan errors by type",
	}, []string{"error_type"})

	return m
}

// AddProvider registers a provider. Duplicate names are rejected.
func (m *Manager) AddProvider(p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.providers {
		if existing.String() == p.String() {
			return fmt.Errorf("provider %s already registered", p)
		}
	}
	m.providers = append(m.providers, p)
	return nil
}

// Providers returns the registered provider names.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.String()
	}
	return names
}

// Enabled reports whether any loan source is configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers) > 0
}

// BestQuote returns the cheapest quote covering the requested amount.
func (m *Manager) BestQuote(ctx context.Context, token types.Address, amount uint64) (*Quote, error) {
	start := time.Now()
	defer func() {
		m.metrics.quoteLatency.Observe(time.Since(start).Seconds())
	}()

	m.mu.RLock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	if len(providers) == 0 {
		m.metrics.errors.WithLabelValues("no_providers").Inc()
		return nil, fmt.Errorf("no flash loan providers configured")
	}

	var best *Quote
	for _, p := range providers {
		quote, err := p.Quote(ctx, token, amount)
		if err != nil {
			m.logger.Debug("provider quote unavailable",
				zap.String("provider", p.String()),
				zap.Uint64("amount", amount),
				zap.Error(err))
			m.metrics.errors.WithLabelValues("quote_failed").Inc()
			continue
		}
		if best == nil || quote.Fee < best.Fee {
			best = quote
		}
	}

	if best == nil {
		m.metrics.errors.WithLabelValues("insufficient_liquidity").Inc()
		return nil, fmt.Errorf("no provider can cover %d of %s", amount, token)
	}

	m.metrics.providerSelections.WithLabelValues(best.Provider).Inc()
	m.metrics.quotedVolume.Add(float64(amount))
	return best, nil
}
