// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"afyalog/internal/config"
	"afyalog/internal/gateway"
	"afyalog/internal/metrics"
	"afyalog/internal/payment"
	paymentrepository "afyalog/internal/payment/repository"
	paymentservice "afyalog/internal/payment/service"
	"afyalog/internal/subscription"
	subscriptionrepository "afyalog/internal/subscription/repository"
	"afyalog/internal/user"
	userrepository "afyalog/internal/user/repository"
	"afyalog/pkg/db"
	"afyalog/pkg/logger"
	"afyalog/pkg/middleware"
)

var server *http.Server

type stores struct {
	users         user.Repository
	subscriptions subscription.Store
	payments      payment.Store
	close         func() error
}

func main() {
	cfg := config.Load()
	base := logger.New(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component(base, "server")
	log.Info("AfyaLog API starting...")

	metrics.InitMetrics()

	st, err := openStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("storage init failed")
	}
	defer st.close()

	a := newApp(cfg, st, newGateway(cfg, logger.Component(base, "gateway")), base)
	reconciler := a.reconciler

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reconciler.Start(ctx); err != nil {
		log.WithError(err).Fatal("reconciler start failed")
	}
	for _, rl := range a.limiters {
		go cleanupLimiter(ctx, rl)
	}

	server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithField("addr", cfg.HTTPAddr).Info("Server running")

	// Graceful shutdown на сигналы ОС
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Info("Shutdown signal received, starting graceful shutdown")
		shutdownServer(log, reconciler)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
}

func openStores(cfg *config.Config, log *logrus.Entry) (*stores, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("using in-memory storage, data is lost on restart")
		return &stores{
			users:         userrepository.NewMemoryUserRepository(),
			subscriptions: subscriptionrepository.NewMemoryRepository(),
			payments:      paymentrepository.NewMemoryRepository(),
			close:         func() error { return nil },
		}, nil
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to PostgreSQL")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, err
	}

	return &stores{
		users:         userrepository.NewPostgresUserRepository(database),
		subscriptions: subscriptionrepository.NewSubscriptionRepository(database),
		payments:      paymentrepository.NewPaymentRepository(database),
		close:         database.Close,
	}, nil
}

func newGateway(cfg *config.Config, log *logrus.Entry) gateway.Client {
	if cfg.GatewayMode == "sandbox" {
		log.Warn("payment gateway in sandbox mode, no real charges")
		return gateway.NewSandbox()
	}
	return gateway.NewIntaSend(gateway.IntaSendConfig{
		BaseURL:        cfg.IntaSendBaseURL,
		SecretKey:      cfg.IntaSendSecretKey,
		PublishableKey: cfg.IntaSendPublishableKey,
		Timeout:        cfg.GatewayTimeout,
	}, log)
}

func cleanupLimiter(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup(10 * time.Minute)
		}
	}
}

func shutdownServer(log *logrus.Entry, reconciler *paymentservice.Reconciler) {
	log.Info("Starting server shutdown process")

	// Создаем контекст с таймаутом
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
	if err := reconciler.Stop(ctx); err != nil {
		log.WithError(err).Error("Reconciler stop failed")
	}

	log.Info("Server stopped")
}
