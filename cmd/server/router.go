package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"afyalog/internal/config"
	"afyalog/internal/gateway"
	paymentservice "afyalog/internal/payment/service"
	paymenthttp "afyalog/internal/payment/transport/http"
	subscriptionservice "afyalog/internal/subscription/service"
	subscriptionhttp "afyalog/internal/subscription/transport/http"
	"afyalog/internal/tier"
	userservice "afyalog/internal/user/service"
	userhttp "afyalog/internal/user/transport/http"
	"afyalog/pkg/logger"
	"afyalog/pkg/middleware"
)

type app struct {
	router     *chi.Mux
	reconciler *paymentservice.Reconciler
	limiters   []*middleware.RateLimiter
}

func newApp(cfg *config.Config, st *stores, gw gateway.Client, base *logrus.Logger) *app {
	// --- ИНИЦИАЛИЗАЦИЯ СЛОЁВ ---
	catalog := tier.NewCatalog()

	ledger := subscriptionservice.NewLedger(st.subscriptions, logger.Component(base, "ledger"), subscriptionservice.WithCatalog(catalog))
	entitlements := subscriptionservice.NewEntitlements(ledger, catalog)

	userService := userservice.NewUserService(st.users, ledger, userservice.WithHashCost(cfg.BcryptCost))
	jwtManager := userservice.NewJWTManager(cfg.JWTSecret)

	orch := paymentservice.NewOrchestrator(
		st.payments,
		gw,
		ledger,
		userService,
		catalog,
		logger.Component(base, "payments"),
		paymentservice.WithPaymentTTL(cfg.PaymentTTL),
		paymentservice.WithRegistrationTTL(cfg.RegistrationTTL),
		paymentservice.WithLateSuccessPolicy(paymentservice.LateSuccessPolicy(cfg.LateSuccessPolicy)),
	)
	reconciler := paymentservice.NewReconciler(orch, cfg.ReconcileInterval, logger.Component(base, "reconciler"))

	userHandler := userhttp.NewHandler(userService, jwtManager)
	subHandler := subscriptionhttp.NewSubscriptionHandler(ledger, entitlements, catalog)
	payHandler := paymenthttp.NewHandler(orch, reconciler, jwtManager, cfg.WebhookChallenge, logger.Component(base, "callbacks"))

	// Шлюз шлёт все вебхуки с нескольких адресов, поэтому у него свой бюджет.
	apiLimiter := middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIBurst, logger.Component(base, "ratelimit"))
	webhookLimiter := middleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookBurst, logger.Component(base, "ratelimit.webhook"))

	// --- РОУТЕР ---
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.MetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.With(middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPassword)).Handle("/metrics", promhttp.Handler())

	r.Group(func(ar chi.Router) {
		ar.Use(middleware.ValidateRequest)

		// Публичные роуты
		ar.Get("/api/tiers", subHandler.Tiers)
		ar.With(webhookLimiter.Middleware).Post("/api/payments/callback", payHandler.Callback)
		ar.Group(func(lr chi.Router) {
			lr.Use(apiLimiter.Middleware)
			lr.Post("/auth/register", userHandler.Register)
			lr.Post("/auth/login", userHandler.Login)
			lr.Post("/api/registrations", payHandler.StartRegistration)
			lr.Post("/api/registrations/{tracking_id}/complete", payHandler.CompleteRegistration)
		})

		// 🔐 Защищённая группа маршрутов
		ar.Group(func(pr chi.Router) {
			pr.Use(middleware.JWTAuth(cfg.JWTSecret))
			pr.Use(apiLimiter.Middleware)

			pr.Get("/api/auth/me", userHandler.Me)

			pr.Get("/api/subscription", subHandler.Get)
			pr.Post("/api/subscription/cancel", subHandler.Cancel)
			pr.Post("/api/subscription/reactivate", subHandler.Reactivate)

			pr.Post("/api/payments/upgrade", payHandler.Upgrade)
			pr.Get("/api/payments/{tracking_id}", payHandler.Status)

			pr.Group(func(adm chi.Router) {
				adm.Use(middleware.RequireAdmin)
				adm.Put("/api/admin/subscriptions/{user_id}", subHandler.SetTier)
				adm.Post("/api/admin/reconcile", payHandler.Reconcile)
			})
		})
	})

	return &app{
		router:     r,
		reconciler: reconciler,
		limiters:   []*middleware.RateLimiter{apiLimiter, webhookLimiter},
	}
}
