package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"time"

	"quantbot/config"
	"quantbot/internal/adapters/binanceclient"
	"quantbot/internal/adapters/logger"
	"quantbot/internal/adapters/simulated"
	"quantbot/internal/adapters/sqlite"
	"quantbot/internal/app"
	"quantbot/internal/domain"
	"quantbot/internal/ports"
	"quantbot/internal/risk"
	"quantbot/internal/strategy"

	"github.com/shopspring/decimal"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogJSON {
		appLogger = logger.NewLogrusLogger(cfg.LogLevel, true)
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	// Market data always comes from Binance; the execution side is swapped for
	// the simulated engine in dry-run mode.
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.RequestsPerSecond,
		RequestBurst:      cfg.RequestBurst,
		FeeSymbol:         cfg.Pair.Symbol(),
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var tradeService ports.TradeService = binanceClient
	var exchangeService ports.ExchangeService = binanceClient
	if cfg.DryRun {
		simEngine, err := simulated.New(simulated.Config{
			Logger:        appLogger,
			Market:        binanceClient,
			TradingDomain: cfg.TradingDomain,
			InitialBalances: map[string]decimal.Decimal{
				cfg.Pair.Quote: cfg.InitialQuoteFunds,
			},
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize simulated engine: %v", err)
		}
		tradeService = simEngine
		exchangeService = simEngine
		appLogger.Info(context.Background(), "Dry-run mode: orders fill against the simulated engine")
	}

	ctx := context.Background()

	// 5. Resolve pair precision from exchange metadata
	if meta, err := exchangeService.CurrencyPairMetaData(ctx, cfg.Pair); err != nil {
		appLogger.Warn(ctx, "Could not fetch pair metadata, using default precision", map[string]interface{}{"error": err.Error()})
	} else if meta != nil {
		cfg.Pair.BasePrecision = meta.BaseScale
		cfg.Pair.QuotePrecision = meta.PriceScale
	}

	// 6. Apply leverage for perpetual trading
	if cfg.TradingDomain == domain.DomainPerpetual {
		if err := tradeService.SetLeverage(ctx, cfg.Pair, cfg.Leverage); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to set leverage")
			log.Fatalf("FATAL: Failed to set leverage: %v", err)
		}
	}

	// 7. Initialize Position Service
	riskManager := risk.NewManager(risk.Config{
		MinimumAmount:    cfg.MinimumAmount,
		MaxLeverage:      cfg.Leverage,
		MaxOpenPositions: cfg.MaxOpenPositions,
	})
	positionService, err := app.NewPositionService(appLogger, tradeService, repo.Positions(), riskManager)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position service: %v", err)
	}

	// 8. Initialize Strategy
	stratCfg := strategy.Config{
		StrategyID:    cfg.StrategyKind + "-" + cfg.Pair.Symbol(),
		TradingDomain: cfg.TradingDomain,
		Pair:          cfg.Pair,
		Durations:     cfg.BarDurations,
		Direction:     cfg.Direction,
		Amount:        cfg.Quantity,
		Rules: domain.PositionRules{
			StopGainSet:              cfg.StopGainSet,
			StopGainPercentage:       cfg.StopGainPercentage,
			StopGainBouncePercentage: cfg.StopGainBouncePercentage,
			StopLossSet:              cfg.StopLossSet,
			StopLossPercentage:       cfg.StopLossPercentage,
		},
	}
	deps := strategy.Deps{
		Logger:    appLogger,
		Market:    binanceClient,
		Positions: positionService,
	}

	var strat ports.Strategy
	switch cfg.StrategyKind {
	case config.StrategyKindBasic:
		// Enter on every fresh bar; the position rules do the risk work.
		basic, err := strategy.NewBasic(stratCfg, deps, func(series []*domain.Bar) bool {
			return len(series) > 0
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to build basic strategy: %v", err)
		}
		basic.Seed(ctx, time.Now().Add(-cfg.SeedHistory))
		strat = basic
	case config.StrategyKindIndicator:
		indicator, err := strategy.NewIndicatorDriven(stratCfg, deps, strategy.IndicatorConfig{
			FastMAPeriod:  cfg.FastMAPeriod,
			SlowMAPeriod:  cfg.SlowMAPeriod,
			RSIPeriod:     cfg.RSIPeriod,
			RSIOverbought: cfg.RSIOverbought,
			RSIOversold:   cfg.RSIOversold,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to build indicator strategy: %v", err)
		}
		indicator.Seed(ctx, time.Now().Add(-cfg.SeedHistory))
		strat = indicator
	case config.StrategyKindSignal:
		signalDriven, err := strategy.NewSignalDriven(stratCfg, deps, repo.Signals(), cfg.SignalLifetime)
		if err != nil {
			log.Fatalf("FATAL: Failed to build signal strategy: %v", err)
		}
		signalDriven.Seed(ctx, time.Now().Add(-cfg.SeedHistory))
		strat = signalDriven
	default:
		log.Fatalf("FATAL: Unknown strategy kind %q", cfg.StrategyKind)
	}

	// 9. Start the Engine
	engine, err := app.NewEngine(app.EngineConfig{
		Logger:          appLogger,
		MarketService:   binanceClient,
		TradeService:    tradeService,
		PositionService: positionService,
		Strategies:      []ports.Strategy{strat},
		TickerInterval:  cfg.TickerInterval,
		OrderInterval:   cfg.OrderInterval,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trading engine: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading engine exited with error")
		log.Fatalf("FATAL: %v", err)
	}
}
