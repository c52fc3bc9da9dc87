package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"equity-core/internal/api"
	"equity-core/internal/balance"
	"equity-core/internal/broker"
	"equity-core/internal/data"
	"equity-core/internal/events"
	"equity-core/internal/journal"
	"equity-core/internal/market"
	"equity-core/internal/monitor"
	"equity-core/internal/order"
	"equity-core/internal/reconciliation"
	"equity-core/internal/repository"
	"equity-core/internal/risk"
	"equity-core/internal/strategy"
	"equity-core/internal/trading"
	"equity-core/pkg/config"
	"equity-core/pkg/db"
	"equity-core/pkg/db/postgres"
	"equity-core/pkg/exchanges/common"
	"equity-core/pkg/exchanges/lssec"
	"equity-core/pkg/i18n"
	"equity-core/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var buildVersion = "dev"

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf(i18n.Get("ConfigLoadFailed"), err)
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.LogPretty)
	i18n.SetLanguage(i18n.Language(cfg.App.Language))
	log.Info().Str("version", buildVersion).Msg(i18n.Get("Starting"))
	log.Info().Msgf(i18n.Get("ConfigLoaded"), cfg.App.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Msgf(i18n.Get("UsingDatabase"), cfg.Database.Driver)
	repo := repository.New(store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewSystemMetrics(reg)

	bus := events.NewBus()
	defer bus.Close()

	outbox, err := order.OpenOutbox(cfg.Trading.OutboxPath)
	if err != nil {
		return fmt.Errorf("open order outbox: %w", err)
	}
	defer outbox.Close()
	if unresolved := outbox.Unresolved(); len(unresolved) > 0 {
		log.Warn().Msgf(i18n.Get("OutboxUnresolved"), len(unresolved))
		for _, in := range unresolved {
			log.Warn().Str("intent", in.Key).Str("ticker", in.Order.Ticker).
				Str("action", string(in.Order.Action)).Int64("qty", in.Order.Quantity).
				Time("at", in.At).Msg("unresolved order intent")
		}
	}

	client := lssec.New(lssec.Config{
		AppKey:        cfg.LSSec.AppKey,
		AppSecret:     cfg.LSSec.AppSecret,
		BaseURL:       cfg.LSSec.BaseURL,
		TickURL:       cfg.LSSec.TickURL,
		OrderURL:      cfg.LSSec.OrderURL,
		HTTPTimeout:   cfg.HTTPTimeout(),
		RatePerSecond: cfg.LSSec.RatePerSecond,
		RateLimits:    cfg.LSSec.RateLimits,
		Backoff: lssec.Backoff{
			Min:    cfg.ReconnectMin(),
			Max:    cfg.ReconnectMax(),
			Factor: 2.0,
			Jitter: 0.2,
		},
		PingInterval: cfg.PingInterval(),
		EventBuffer:  cfg.Stream.EventBuffer,
	})

	var (
		gateway     common.MarketGateway          = client
		orderEvents common.OrderEventSource       = client
		holdings    reconciliation.HoldingsSource = client
	)
	venue := "lssec"
	var mock *market.MockFeed
	if cfg.App.DryRun {
		var feed common.MarketGateway = client
		if cfg.App.MockFeed {
			mock = &market.MockFeed{Interval: cfg.MockTickInterval()}
			feed = mock
			venue = "mock"
		}
		dry := order.NewDryRunGateway(feed, cfg.DryRunLatency(), time.Now().Unix())
		gateway, orderEvents = dry, dry
		// Simulated fills never reach the account, so a holdings diff would be noise.
		holdings = nil
		venue += "-dry-run"
		log.Warn().Msg(i18n.Get("DryRunMode"))
	}

	cfgs, err := strategy.LoadConfig(cfg.Trading.StrategiesFile)
	if err != nil {
		return fmt.Errorf(i18n.Get("StrategyLoadFailed"), err)
	}
	if err := strategy.SyncConfig(ctx, store, cfgs); err != nil {
		return fmt.Errorf(i18n.Get("StrategyLoadFailed"), err)
	}
	strategies, err := strategy.BuildAll(cfgs, strategy.Deps{Charts: store})
	if err != nil {
		return fmt.Errorf(i18n.Get("StrategyLoadFailed"), err)
	}

	guard := risk.NewGuard(risk.Limits{
		MaxOrderQty:      cfg.Risk.MaxOrderQty,
		MaxOrderNotional: decimal.NewFromFloat(cfg.Risk.MaxOrderNotional),
		MaxPositionQty:   cfg.Risk.MaxPositionQty,
		MaxDailyOrders:   cfg.Risk.MaxDailyOrders,
	})

	// Simulated orders never move the account's cash, so the check is live-only.
	var cash *balance.Manager
	if !cfg.App.DryRun {
		cash = balance.NewManager(client, cfg.BalanceSyncInterval())
		cash.Start(ctx)
	}

	b := broker.New(gateway, orderEvents, repo, broker.Options{Bus: bus, Outbox: outbox, Metrics: metrics})
	manager := trading.NewManager(b, repo, trading.Options{
		Guard:       guard,
		Cash:        cashReserver(cash),
		Bus:         bus,
		Metrics:     metrics,
		TickBacklog: cfg.Trading.TickBacklog,
		QueueSize:   cfg.Trading.OrderQueueSize,
	})
	for _, s := range strategies {
		manager.AddStrategy(s)
	}
	log.Info().Msgf(i18n.Get("StrategiesLoaded"), len(strategies))
	log.Info().Strs("targets", manager.Targets()).Msgf(i18n.Get("TargetsResolved"), len(manager.Targets()))

	charts := data.NewHistoricalDataService(client, store, cfg.Trading.ChartHistory)
	if _, err := charts.Refresh(ctx, manager.Targets()); err != nil {
		log.Warn().Err(err).Msg("some daily charts could not be loaded")
	}
	charts.Start(ctx, manager.Targets(), cfg.ChartRefreshInterval())
	if mock != nil {
		seedMockPrices(ctx, mock, store, manager.Targets())
	}

	alerts := monitor.LogSink{}
	(&monitor.Monitor{Bus: bus, Sink: alerts}).Start(ctx)

	if cfg.Redis.Addr != "" {
		j, err := journal.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			// The journal is an audit copy; trading continues without it.
			log.Error().Err(err).Str("addr", cfg.Redis.Addr).Msg("order journal disabled")
		} else {
			defer j.Close()
			go j.Run(ctx, bus)
			log.Info().Msgf(i18n.Get("JournalEnabled"), cfg.Redis.Addr)
		}
	}

	recon := reconciliation.NewService(repo, reconciliation.Options{
		Exchange:   holdings,
		Intents:    outbox,
		Alerts:     alerts,
		Metrics:    metrics,
		Interval:   cfg.ReconcileInterval(),
		StaleAfter: cfg.StaleAfter(),
	})
	recon.Start(ctx)
	log.Info().Msgf(i18n.Get("ReconStarted"), cfg.ReconcileInterval())

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(api.Deps{
			Repo:       repo,
			Trading:    manager,
			Orders:     b,
			Account:    client,
			Reconciler: recon,
			Guard:      guard,
			Metrics:    metrics,
			Gatherer:   reg,
			JWTSecret:  cfg.API.JWTSecret,
			APIKey:     cfg.API.APIKey,
			APIKeyHash: cfg.API.APIKeyHash,
			TokenTTL:   cfg.TokenTTL(),
			Meta: api.SystemMeta{
				DryRun:   cfg.App.DryRun,
				Venue:    venue,
				Database: cfg.Database.Driver,
				Version:  buildVersion,
			},
		})
		go func() {
			if err := server.Start(":" + cfg.App.Port); err != nil {
				log.Error().Msgf(i18n.Get("APIServerError"), err)
				stop()
			}
		}()
		log.Info().Msgf(i18n.Get("ServerListening"), cfg.App.Port)
	}

	tradingDone := make(chan error, 1)
	go func() { tradingDone <- manager.Run(ctx) }()

	var (
		runErr  error
		stopped bool
	)
	select {
	case <-ctx.Done():
	case runErr = <-tradingDone:
		stopped = true
		log.Error().Msgf(i18n.Get("TradingStopped"), runErr)
		stop()
	}
	log.Info().Msg(i18n.Get("ShuttingDown"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("api shutdown")
		}
	}
	if !stopped {
		select {
		case runErr = <-tradingDone:
		case <-shutdownCtx.Done():
			runErr = errors.New("trading manager did not stop in time")
		}
	}

	m := outbox.Metrics()
	log.Info().
		Uint64("intents_written", m.Written).
		Uint64("intents_completed", m.Completed).
		Uint64("intents_abandoned", m.Abandoned).
		Msg(i18n.Get("ShutdownComplete"))
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := postgres.Connect(ctx, postgres.Config{
			URL:      cfg.Database.URL,
			MinConns: cfg.Database.MinConns,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf(i18n.Get("DBInitFailed"), err)
		}
		return store, nil
	default:
		store, err := db.New(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf(i18n.Get("DBInitFailed"), err)
		}
		if err := db.ApplyMigrations(store); err != nil {
			store.Close()
			return nil, fmt.Errorf(i18n.Get("DBMigrationsFailed"), err)
		}
		return store, nil
	}
}

// cashReserver keeps a nil manager from becoming a non-nil interface.
func cashReserver(m *balance.Manager) trading.CashReserver {
	if m == nil {
		return nil
	}
	return m
}

// seedMockPrices starts each synthetic walk at the ticker's last daily close.
func seedMockPrices(ctx context.Context, feed *market.MockFeed, charts strategy.ChartSource, tickers []string) {
	for _, t := range tickers {
		candles, err := charts.ListCandles(ctx, t, 1)
		if err != nil || len(candles) == 0 {
			continue
		}
		feed.SetStartPrice(t, int64(candles[len(candles)-1].Close))
	}
}
