package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/ai"
	"github.com/songzhibin97/quantaguard/internal/ai/deepseek"
	"github.com/songzhibin97/quantaguard/internal/ai/openai"
	"github.com/songzhibin97/quantaguard/internal/chain/evm"
	"github.com/songzhibin97/quantaguard/internal/configs"
	"github.com/songzhibin97/quantaguard/internal/cycle"
	"github.com/songzhibin97/quantaguard/internal/data/collector"
	collectorBinance "github.com/songzhibin97/quantaguard/internal/data/collector/binance"
	"github.com/songzhibin97/quantaguard/internal/data/market"
	"github.com/songzhibin97/quantaguard/internal/data/portfolio"
	"github.com/songzhibin97/quantaguard/internal/distribution"
	"github.com/songzhibin97/quantaguard/internal/monitor"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/scheduler"
	"github.com/songzhibin97/quantaguard/internal/server"
	"github.com/songzhibin97/quantaguard/internal/trading"
	binanceTrading "github.com/songzhibin97/quantaguard/internal/trading/binance"
)

const (
	taskCycle    = "decision-cycle"
	taskMonitor  = "position-monitor"
	taskSnapshot = "portfolio-snapshot"

	readyStorage = "storage"
	readyRisk    = "risk"
	readyCycle   = "cycle"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the decision loop, position monitor and operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func newCompleter(cfg configs.AIConfig) ai.Completer {
	if cfg.Provider == "deepseek" {
		return deepseek.NewDeepSeekAnalyzer(cfg.APIKey, cfg.Model, cfg.BaseURL)
	}
	return openai.NewOpenAIAnalyzer(cfg.APIKey, cfg.Model, cfg.BaseURL)
}

// newBackends wires the exchange and, when configured, the on-chain wallet.
func newBackends(ctx context.Context, cfg *configs.Config, exchange *binanceTrading.BinanceExecutor, pricer evm.Pricer, logger *zap.Logger) (trading.Backends, error) {
	backends := trading.Backends{Spot: exchange, Leveraged: exchange}
	if cfg.Chain.RPCURL == "" {
		return backends, nil
	}

	opts := []evm.Option{evm.WithPricer(pricer)}
	if cfg.Chain.PositionManager != "" {
		opts = append(opts, evm.WithPositionManager(cfg.Chain.PositionManager, cfg.Chain.Pools))
	}
	wallet, err := evm.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.PrivateKey, logger, opts...)
	if err != nil {
		return backends, fmt.Errorf("failed to connect wallet: %w", err)
	}
	backends.Ledger = wallet
	if cfg.Chain.PositionManager != "" {
		backends.Liquidity = wallet
	}
	return backends, nil
}

func run(ctx context.Context, cfg *configs.Config, logger *zap.Logger) error {
	logger.Info("starting quantaguard", zap.Bool("dry_run", cfg.DryRun))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	barrier := scheduler.NewBarrier(readyStorage, readyRisk, readyCycle)
	sched := scheduler.New(logger, scheduler.WithBarrier(barrier))

	engine := risk.NewEngine(cfg.Risk, risk.DefaultRules(), logger)
	riskManager := risk.NewBasicRiskManager(engine, logger)

	serverErr := make(chan error, 1)
	if cfg.Server.Addr != "" {
		srv := server.New(riskManager, barrier, logger)
		go func() { serverErr <- srv.Run(ctx, cfg.Server.Addr) }()
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	barrier.Ready(readyStorage)

	prices := collector.NewMultiSourceCollector([]collector.DataSource{
		collectorBinance.NewBinanceDataSource(),
	}, logger)
	exchange := binanceTrading.NewBinanceExecutor(cfg.ExchangeConfig.APIKey, cfg.ExchangeConfig.SecretKey, cfg.ExchangeConfig.Debug)

	backends, err := newBackends(ctx, cfg, exchange, prices, logger)
	if err != nil {
		return err
	}
	if cfg.DryRun {
		backends = trading.WithDryRun(backends, logger)
	}

	completer := newCompleter(cfg.AIConfig)
	portfolioProvider := portfolio.NewProvider(portfolio.Sources{
		Balances:  exchange,
		Prices:    prices,
		Leveraged: backends.Leveraged,
		Liquidity: backends.Liquidity,
		Ledger:    backends.Ledger,
		Baseline:  store,
	}, portfolio.Config{BaseSymbol: cfg.Chain.BaseSymbol}, logger)
	marketProvider := market.NewProvider(prices, completer, market.Config{
		Watchlist:   cfg.Market.Watchlist,
		OverviewTTL: cfg.Market.OverviewTTL,
		AnalysisTTL: cfg.Market.AnalysisTTL,
	}, logger)

	state, err := portfolioProvider.PortfolioState(ctx)
	if err != nil {
		logger.Warn("portfolio degraded at startup", zap.Error(err))
	}
	riskManager.Seed(ctx, store, state.TotalValueUSD)
	barrier.Ready(readyRisk)

	deps := cycle.Deps{
		Portfolio: portfolioProvider,
		Market:    marketProvider,
		Generator: completer,
		Risk:      riskManager,
		Backends:  backends,
		Store:     store,
	}
	if cfg.Distribution.HoldersURL != "" && backends.Ledger != nil {
		deps.Distributor = distribution.NewDistributor(backends.Ledger,
			distribution.NewHTTPHolderSource(cfg.Distribution.HoldersURL), cfg.Distribution.Config, logger)
	}
	decisionCycle, err := cycle.New(deps, cycle.Config{
		FeeClaimInterval: cfg.Intervals.FeeClaim,
		ForwardWallet:    cfg.Fees.ForwardWallet,
		ForwardFraction:  cfg.Fees.ForwardFraction,
		ForwardMin:       cfg.Fees.ForwardMin,
		BaseSymbol:       cfg.Chain.BaseSymbol,
	}, logger)
	if err != nil {
		return err
	}
	if err := decisionCycle.Init(ctx); err != nil {
		logger.Warn("trade cursor starts at zero", zap.Error(err))
	}
	barrier.Ready(readyCycle)

	positionMonitor := monitor.NewPositionMonitor(backends.Leveraged, store, riskManager, logger)
	snapshotter := cycle.NewSnapshotter(portfolioProvider, store, logger)

	tasks := []scheduler.Task{
		{
			Name:     taskCycle,
			Interval: cfg.Intervals.Cycle,
			Timeout:  cfg.Intervals.CycleTimeout,
			Run: func(ctx context.Context) error {
				_, err := decisionCycle.Run(ctx)
				return err
			},
		},
		{
			Name:     taskMonitor,
			Interval: cfg.Intervals.Monitor,
			Timeout:  cfg.Intervals.MonitorTimeout,
			Run: func(ctx context.Context) error {
				positionMonitor.Tick(ctx)
				return nil
			},
		},
		{
			Name:     taskSnapshot,
			Interval: cfg.Intervals.Snapshot,
			Run:      snapshotter.Run,
		},
	}
	for _, t := range tasks {
		if err := sched.Add(t); err != nil {
			return err
		}
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	select {
	case err := <-serverErr:
		if err != nil {
			// stop the tasks before the store closes
			logger.Error("operator api stopped", zap.Error(err))
			cancel()
			<-schedDone
			return err
		}
		err = <-schedDone
		return ignoreCancel(err)
	case err := <-schedDone:
		logger.Info("quantaguard stopped")
		return ignoreCancel(err)
	}
}

// ignoreCancel treats a shutdown during startup as a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
