package main

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"recloud/bot"
	"recloud/impl/auth"
	"recloud/impl/cache"
	"recloud/impl/core"
	"recloud/impl/devices"
	"recloud/impl/entitlement"
	"recloud/impl/promo"
	"recloud/impl/scheduler"
	"recloud/impl/slots"
	"recloud/internal/config"
	"recloud/internal/database"
	"recloud/internal/http-server/api"
	"recloud/internal/provider"
	"recloud/lib/keylock"
	"recloud/lib/logger"
	"recloud/lib/sl"
)

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)
	lg.Info("starting recloud", slog.String("config", *configPath), slog.String("env", conf.Env))

	if conf.Telegram.Enabled {
		tgBot, err := bot.NewTgBot(conf.Telegram.ApiKey, conf.Telegram.ChatIds, lg)
		if err != nil {
			lg.Error("telegram bot init", sl.Err(err))
		} else {
			lg = slog.New(logger.NewTelegramHandler(lg.Handler(), tgBot, slog.LevelWarn))
		}
	}

	db := database.NewMongoClient(conf)
	if db == nil {
		log.Fatal("mongo is disabled in config; no store to run against")
	}

	locks := keylock.New()
	entitlementSvc := entitlement.New(db, locks, lg)
	slotsSvc := slots.New(db, locks, lg)
	promoSvc := promo.New(db, db, locks, lg)

	catalogClient := provider.NewCatalogClient(conf.Providers.CatalogUrl, conf.Providers.FetchTimeout, lg)
	statsClient := provider.NewStatsClient(conf.Providers.StatsUrl, conf.Providers.FetchTimeout, lg)
	cacheSvc := cache.New(catalogClient, statsClient, cache.Options{
		BackupDir:     conf.Cache.BackupDir,
		StatsTTL:      conf.Cache.StatsTTL,
		CatalogTTL:    conf.Cache.CatalogTTL,
		DailyTTL:      conf.Cache.DailyTTL,
		PeriodTTL:     conf.Cache.PeriodTTL,
		InlineTimeout: conf.Providers.InlineTimeout,
		FetchTimeout:  conf.Providers.FetchTimeout,
	}, lg)

	devicesSvc := devices.New(db, entitlementSvc, cacheSvc, locks, lg)

	handler := core.New(db, core.Services{
		Auth:        auth.New(db),
		Entitlement: entitlementSvc,
		Slots:       slotsSvc,
		Promo:       promoSvc,
		Devices:     devicesSvc,
		Cache:       cacheSvc,
	}, lg)

	sched := scheduler.New(lg)
	sched.Register("expiration-sweep", conf.Cache.SweepPeriod, func(ctx context.Context) error {
		entitlementSvc.Sweep(ctx)
		return nil
	})
	sched.Register("stats-refresh", conf.Cache.StatsTTL, cacheSvc.RefreshStats)
	sched.Register("catalog-refresh", conf.Cache.CatalogTTL, cacheSvc.RefreshCatalog)
	sched.Register("daily-stats-refresh", conf.Cache.DailyTTL, cacheSvc.RefreshDaily)
	sched.Register("period-stats-refresh", conf.Cache.PeriodTTL, cacheSvc.RefreshPeriods)
	sched.Start()
	defer sched.Stop()

	if err := api.New(conf, lg, handler); err != nil {
		lg.Error("api server stopped", sl.Err(err))
	}
}
