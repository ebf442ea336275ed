package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"TierTrader/internal/api"
	"TierTrader/internal/audit"
	"TierTrader/internal/collector"
	"TierTrader/internal/config"
	"TierTrader/internal/exchange"
	"TierTrader/internal/executor"
	"TierTrader/internal/guard"
	"TierTrader/internal/lease"
	"TierTrader/internal/ledger"
	"TierTrader/internal/logger"
	"TierTrader/internal/metrics"
	"TierTrader/internal/notifier"
	"TierTrader/internal/scheduler"
	"TierTrader/internal/strategy"
	"TierTrader/internal/trader"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.L().Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.L().Fatalf("init logger: %v", err)
	}
	log := logger.WithComponent("main")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	log.Info("TierTrader starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := ledger.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer store.Close()

	dupGuard, err := guard.New(store, cfg.Guard)
	if err != nil {
		log.Fatalf("init guard: %v", err)
	}

	set, err := collector.NewSet(cfg.Sources, cfg.Proxy)
	if err != nil {
		log.Fatalf("init price sources: %v", err)
	}
	agg := collector.NewAggregator(cfg.Sources, set.Sources, set.Fallback,
		collector.NewReferenceProvider(cfg.Reference, set.Bars))
	log.WithField("sources", len(set.Sources)).Info("price sources ready")

	var rdb redis.UniversalClient
	if cfg.Lease.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer rdb.Close()
	}
	cycleLease, err := lease.New(cfg.Lease, rdb)
	if err != nil {
		log.Fatalf("init lease: %v", err)
	}

	publisher := audit.New(cfg.Kafka)
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)
	gatherer, err := metrics.Gatherer(reg)
	if err != nil {
		log.Fatalf("init metrics: %v", err)
	}

	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	strike := exchange.NewStrikeClient(cfg.Exchange, cfg.Executor.Issuer, cfg.Proxy)

	exec := executor.New(executor.Deps{
		Exchange:  strike,
		Ledger:    store,
		Guard:     dupGuard,
		Publisher: publisher,
		Metrics:   rec,
		Alerter:   tn,
	}, cfg.Executor)

	loc, _ := time.LoadLocation(cfg.Guard.Timezone)
	tr := trader.New(trader.Deps{
		Collector: agg,
		Signals:   collector.NewSignalProvider(cfg.Signals, set.Bars),
		Engine:    strategy.NewEngine(cfg.Trading),
		Guard:     dupGuard,
		Executor:  exec,
		Exchange:  strike,
		Store:     store,
		Lease:     cycleLease,
		Publisher: publisher,
		Metrics:   rec,
	}, trader.Settings{
		Retry:     cfg.Retry,
		SellPause: cfg.Executor.SellPause,
		Location:  loc,
	})

	sched, err := scheduler.NewScheduler(ctx, tr, tn, cfg.Schedule)
	if err != nil {
		log.Fatalf("init scheduler: %v", err)
	}
	if err := sched.RegisterAll(); err != nil {
		log.Fatalf("register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	if tn.Enabled() {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("Telegram polling started")
	}

	if cfg.Admin.Enabled {
		srv, err := api.New(tr, cfg.Admin.Secret, gatherer, loc)
		if err != nil {
			log.Fatalf("init admin api: %v", err)
		}
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Admin.Listen); err != nil {
				log.WithError(err).Error("admin api stopped")
			}
		}()
	}

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, executing a cycle now")
		go sched.RunCycleNow()
	}

	log.Info("TierTrader is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping...")
	cancel()
}
