// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telegram-vpn-shop/internal/config"
	"telegram-vpn-shop/internal/infra/api"
	pg "telegram-vpn-shop/internal/infra/db/postgres"
	"telegram-vpn-shop/internal/infra/locks"
	"telegram-vpn-shop/internal/infra/logging"
	"telegram-vpn-shop/internal/infra/metrics"
	"telegram-vpn-shop/internal/infra/provision"
	red "telegram-vpn-shop/internal/infra/redis"
	"telegram-vpn-shop/internal/infra/sched"
	tele "telegram-vpn-shop/internal/infra/telegram"
	"telegram-vpn-shop/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "console logging and relaxed defaults")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	flowRepo := red.NewStateRepo(redisClient, cfg.Redis.StateTTL)

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	subscriberRepo := pg.NewSubscriberRepo(pool)
	tariffRepo := pg.NewTariffRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	intentRepo := pg.NewIntentRepo(pool)
	promoRepo := pg.NewPromoRepo(pool)
	referralRepo := pg.NewReferralRepo(pool)
	notifLogRepo := pg.NewNotificationLogRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)

	// ---- Subscriber guard ----
	advisory := pg.NewSessionAdvisoryLocker(pool)
	guard := locks.NewGuard(advisory, cfg.Purchase.LockTimeout, logger)

	// ---- Control-plane client ----
	provisioner := provision.NewClient(cfg.Provision.BaseURL, cfg.Provision.APIToken, cfg.Provision.CallTimeout)

	// ---- Notifications ----
	notifier, err := tele.NewNotifier(&cfg.Bot, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram notifier")
	}
	dispatcher := usecase.NewNotificationDispatcher(notifLogRepo, logger)

	// ---- Use cases ----
	pricingUC := usecase.NewPricingUseCase(tariffRepo, subscriberRepo, promoRepo, logger)
	purchaseUC := usecase.NewPurchaseUseCase(intentRepo, flowRepo, pricingUC, cfg.Purchase.IntentTTL, logger)
	finalizeUC := usecase.NewFinalizeUseCase(
		txm, payRepo, intentRepo, subRepo, subscriberRepo, promoRepo, referralRepo, auditRepo,
		guard, provisioner, dispatcher, notifier, cfg.Purchase.ReferralPct, logger,
	)
	adminUC := usecase.NewAdminUseCase(txm, subRepo, auditRepo, guard, provisioner, dispatcher, notifier, logger)

	// ---- Background workers ----
	reconciler := sched.NewReconciler(subRepo, provisioner, guard, cfg.Reconcile, logger)
	go func() { _ = reconciler.Run(ctx) }()

	retrier := sched.NewActivationRetrier(subRepo, payRepo, provisioner, guard, dispatcher, notifier, cfg.Activation, logger)
	go func() { _ = retrier.Run(ctx) }()

	expirer := sched.NewExpiryWorker(subRepo, intentRepo, provisioner, guard, cfg.Purchase, logger)
	go func() { _ = expirer.Run(ctx) }()

	// ---- Telegram bot ----
	bot, err := tele.NewBot(&cfg.Bot, subscriberRepo, tariffRepo, subRepo, purchaseUC, pricingUC, finalizeUC, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram bot")
	}
	go func() {
		if err := bot.StartPolling(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("telegram polling stopped")
		}
	}()

	// ---- HTTP server ----
	auth := api.NewAuthManager(cfg.API.JWTSecret, 12*time.Hour)
	srv := api.NewServer(finalizeUC, adminUC, auditRepo, reconciler, auth, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
