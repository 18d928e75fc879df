// Package engine assembles the pipeline and owns its lifecycle: feeds in,
// detection, strategy selection, bundle construction, scheduled execution,
// results out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/arbengine/builder"
	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/chain/rpc"
	"github.com/quantfall/arbengine/config"
	"github.com/quantfall/arbengine/detector"
	"github.com/quantfall/arbengine/flashloan"
	"github.com/quantfall/arbengine/flashloan/port"
	"github.com/quantfall/arbengine/flashloan/solend"
	"github.com/quantfall/arbengine/journal"
	"github.com/quantfall/arbengine/market"
	"github.com/quantfall/arbengine/monitor"
	"github.com/quantfall/arbengine/risk"
	"github.com/quantfall/arbengine/scheduler"
	"github.com/quantfall/arbengine/simulator"
	"github.com/quantfall/arbengine/strategy"
	"github.com/quantfall/arbengine/types"
)

// Engine is the assembled arbitrage pipeline.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	client   *rpc.Client
	agg      *market.Aggregator
	detector *detector.Detector
	selector *strategy.Selector
	builder  *builder.Builder
	sched    *scheduler.Scheduler
	guard    *risk.Guard

	markets []types.Address
	metrics *monitor.Metrics
	sink    monitor.Sink
	health  *monitor.Health
	store   journal.Store
}

// New wires the engine from configuration. The journal and metrics surfaces
// are optional; execution never depends on them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	markets, err := parseAddresses(cfg.Trading.WhitelistedMarkets)
	if err != nil {
		return nil, fmt.Errorf("whitelisted markets: %w", err)
	}
	tokens, err := parseAddresses(cfg.Trading.WhitelistedTokens)
	if err != nil {
		return nil, fmt.Errorf("whitelisted tokens: %w", err)
	}

	limits := risk.Limits{
		MinProfitPct:        cfg.Trading.MinProfitPct,
		MinLiquidity:        cfg.Trading.MinLiquidity,
		MaxSpread:           cfg.Trading.MaxSpread,
		MaxTradeSize:        cfg.Risk.MaxTradeSize,
		DailyVolumeLimit:    cfg.Risk.DailyVolumeLimit,
		MaxSlippage:         cfg.Risk.MaxSlippage,
		MaxConcurrentTrades: cfg.Risk.MaxConcurrentTrades,
		PositionTimeout:     cfg.Risk.PositionTimeout,
		SimulationTolerance: cfg.Risk.SimulationTolerance,
	}
	guard := risk.NewGuard(limits, markets, tokens)

	client := rpc.NewClient(cfg.Network.RPCEndpoint, cfg.Network.WSEndpoint, rpc.Options{
		Timeout:           cfg.Network.RequestTimeout,
		MaxRetries:        cfg.Network.MaxRetries,
		RetryBackoff:      cfg.Network.RetryBackoff,
		RequestsPerSecond: cfg.Network.RequestsPerSecond,
		BurstSize:         cfg.Network.BurstSize,
		BackupEndpoints:   cfg.Network.BackupNodes,
		Confirmations:     cfg.Network.Confirmations,
	}, logger)

	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}

	agg := market.NewAggregator(logger)

	loans, err := buildLoanManager(cfg, client, logger)
	if err != nil {
		return nil, err
	}

	sim := simulator.New(agg.Latest, cfg.Risk.SimulationTolerance, cfg.Risk.MaxSlippage, logger)

	det := detector.New(agg, guard, detector.Config{
		MaxHops:         cfg.Trading.MaxHops,
		MaxTradeSize:    cfg.Risk.MaxTradeSize,
		FixedCostPerLeg: cfg.Trading.FixedCostPerLeg,
		OpportunityTTL:  cfg.Trading.OpportunityTTL,
	}, logger)

	sel := strategy.New(strategy.Config{
		DirectEnabled:    cfg.StrategyEnabled("direct"),
		FlashLoanEnabled: cfg.StrategyEnabled("flash_loan") && cfg.FlashLoan.Enabled,
		JitEnabled:       cfg.StrategyEnabled("jit_liquidity"),
		AvailableCapital: cfg.Trading.AvailableCapital,
		MinProfitPct:     cfg.Trading.MinProfitPct,
		FixedCostPerLeg:  cfg.Trading.FixedCostPerLeg,
		JitWindow:        cfg.Trading.JitWindow,
	}, loans, agg, logger)

	bld := builder.New(agg, signer, loans, sim, guard, logger)

	var (
		sink    monitor.Sink = monitor.NopSink{}
		metrics *monitor.Metrics
		health  *monitor.Health
	)
	if cfg.Monitoring.MetricsEnabled {
		metrics = monitor.NewMetrics("arbengine")
		sink = metrics
		health = monitor.NewHealth(metrics, cfg.Monitoring.HealthInterval, logger)
	}

	var store journal.Store
	if cfg.Monitoring.JournalDSN != "" {
		store, err = journal.NewPostgresStore(ctx, cfg.Monitoring.JournalDSN)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	} else {
		store = journal.NewMemoryStore()
	}

	sched, err := scheduler.New(scheduler.Config{
		MaxConcurrent:    cfg.Risk.MaxConcurrentTrades,
		DailyVolumeLimit: cfg.Risk.DailyVolumeLimit,
		PositionTimeout:  cfg.Risk.PositionTimeout,
		SubmitRetries:    uint64(cfg.Network.MaxRetries),
		SimulateOnly:     cfg.SimulateOnly,
	}, client, risk.NewPosition(), sink, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		agg:      agg,
		detector: det,
		selector: sel,
		builder:  bld,
		sched:    sched,
		guard:    guard,
		markets:  markets,
		metrics:  metrics,
		sink:     sink,
		health:   health,
		store:    store,
	}, nil
}

// Run drives the engine until the context ends, then drains in-flight
// bundles before returning.
func (e *Engine) Run(ctx context.Context) error {
	defer e.store.Close()

	feed, err := e.client.SubscribeMarketData(ctx, e.markets)
	if err != nil {
		return fmt.Errorf("subscribe market data: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.agg.Consume(ctx, feed)
		return nil
	})

	if e.health != nil {
		g.Go(func() error {
			if err := e.health.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if e.metrics != nil && e.cfg.Monitoring.PrometheusEndpoint != "" {
		g.Go(func() error {
			return e.serveMetrics(ctx)
		})
	}

	g.Go(func() error {
		return e.loop(ctx)
	})

	err = g.Wait()
	e.sched.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop is the detection-to-execution cycle: wait for coalesced updates,
// rescan the affected graph, and push each viable opportunity through
// selection, construction and admission. Per-opportunity failures are
// expected traffic; only a lost signer stops the engine.
func (e *Engine) loop(ctx context.Context) error {
	for {
		refs, err := e.agg.WaitUpdates(ctx)
		if err != nil {
			return err
		}

		opportunities := e.detector.Scan(refs)
		if len(opportunities) == 0 {
			continue
		}
		e.sink.OpportunitiesDetected(len(opportunities))

		for _, opp := range opportunities {
			strat, err := e.selector.Select(ctx, opp)
			if err != nil {
				if !errors.Is(err, types.ErrNoStrategy) {
					e.logger.Warn("strategy selection failed", zap.Error(err))
				}
				continue
			}

			bundle, err := e.builder.Build(ctx, opp, strat)
			if err != nil {
				if errors.Is(err, types.ErrSignerUnavailable) {
					return fmt.Errorf("signer lost: %w", err)
				}
				e.logger.Debug("bundle construction aborted",
					zap.Float64("profit_pct", opp.ProfitPct),
					zap.Error(err))
				continue
			}

			if err := e.sched.Submit(ctx, bundle); err != nil {
				e.logger.Debug("bundle not admitted",
					zap.String("bundle", bundle.ID.String()),
					zap.Error(err))
			}
		}
	}
}

// serveMetrics exposes the scrape endpoint until the context ends.
func (e *Engine) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())

	server := &http.Server{
		Addr:              e.cfg.Monitoring.PrometheusEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("metrics endpoint listening",
		zap.String("addr", e.cfg.Monitoring.PrometheusEndpoint))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newSigner picks the signing backend: a keypair file when configured, the
// unsigned passthrough for pure simulation.
func newSigner(cfg *config.Config) (chain.Signer, error) {
	if cfg.KeypairPath != "" {
		return chain.NewFileSigner(cfg.KeypairPath)
	}
	if !cfg.SimulateOnly {
		return nil, fmt.Errorf("no keypair configured for live trading: %w", types.ErrSignerUnavailable)
	}
	return chain.NopSigner{}, nil
}

// buildLoanManager registers the configured flash-loan sources. Sources
// missing pool addressing are skipped, not fatal.
func buildLoanManager(cfg *config.Config, client chain.Client, logger *zap.Logger) (*flashloan.Manager, error) {
	manager := flashloan.NewManager(logger)
	if !cfg.FlashLoan.Enabled {
		return manager, nil
	}

	for _, source := range cfg.FlashLoan.Sources {
		pc, err := providerConfig(cfg, source)
		if err != nil {
			logger.Warn("flash loan source skipped", zap.String("source", source), zap.Error(err))
			continue
		}

		var provider flashloan.Provider
		switch source {
		case "solend":
			provider = solend.New(client, pc, logger)
		case "port":
			provider = port.New(client, pc, logger)
		default:
			return nil, fmt.Errorf("unknown flash loan source %q", source)
		}
		if err := manager.AddProvider(provider); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

func providerConfig(cfg *config.Config, source string) (flashloan.ProviderConfig, error) {
	programStr, ok := cfg.FlashLoan.Programs[source]
	if !ok {
		return flashloan.ProviderConfig{}, fmt.Errorf("no program address for %s", source)
	}
	poolStr, ok := cfg.FlashLoan.Pools[source]
	if !ok {
		return flashloan.ProviderConfig{}, fmt.Errorf("no pool address for %s", source)
	}

	program, err := types.ParseAddress(programStr)
	if err != nil {
		return flashloan.ProviderConfig{}, fmt.Errorf("program address for %s: %w", source, err)
	}
	pool, err := types.ParseAddress(poolStr)
	if err != nil {
		return flashloan.ProviderConfig{}, fmt.Errorf("pool address for %s: %w", source, err)
	}

	return flashloan.ProviderConfig{
		Program: program,
		Pool:    pool,
		FeeBps:  cfg.FlashLoan.FeeOverrides[source],
	}, nil
}

func parseAddresses(raw []string) ([]types.Address, error) {
	out := make([]types.Address, len(raw))
	for i, s := range raw {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		out[i] = addr
	}
	return out, nil
}
