package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/events"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/handler"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/config"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/httputil"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
	"github.com/pharmadesk/pharmadesk-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	productRepo := repository.NewProductRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	supplierRepo := repository.NewSupplierRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	legacyRepo := repository.NewLegacyStockRepository(db)

	// Initialize services
	allocator := service.NewAllocator(batchRepo, cfg.Stock.NearExpiryDays)
	audit := service.NewAuditRecorder(auditRepo, log)
	mirror := service.NewLegacyMirror(legacyRepo, cfg.Stock.LegacyMirrorEnabled, log)
	saleService := service.NewSaleService(db, productRepo, batchRepo, customerRepo,
		accountRepo, saleRepo, allocator, audit, publisher, mirror, cfg.Stock, log)
	purchaseService := service.NewPurchaseService(db, productRepo, batchRepo,
		supplierRepo, accountRepo, purchaseRepo, audit, publisher, mirror, log)
	batchService := service.NewBatchService(db, batchRepo, notificationRepo,
		audit, publisher, mirror, log)

	// Initialize handlers
	saleHandler := handler.NewSaleHandler(saleService, log)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService, log)
	batchHandler := handler.NewBatchHandler(batchService, allocator, log)
	notificationHandler := handler.NewNotificationHandler(batchService, log)
	auditHandler := handler.NewAuditHandler(auditRepo, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start expiry scheduler
	scheduler := service.NewExpiryScheduler(batchRepo, notificationRepo, publisher,
		audit, cfg.Stock.ExpiryScanInterval, log)
	scheduler.Start(ctx)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.ActorMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor-ID", "X-Actor-Name", "X-Actor-Email"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", saleHandler.Create)
			r.Get("/{id}", saleHandler.Get)
			r.Post("/{id}/return", saleHandler.Return)
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", purchaseHandler.Create)
			r.Get("/{id}", purchaseHandler.Get)
			r.Post("/{id}/return", purchaseHandler.Return)
		})

		r.Route("/products/{id}", func(r chi.Router) {
			r.Get("/batches", batchHandler.ListByProduct)
			r.Get("/allocation", batchHandler.PreviewAllocation)
		})

		r.Route("/batches/{id}", func(r chi.Router) {
			r.Get("/", batchHandler.Get)
			r.Post("/dispose", batchHandler.Dispose)
			r.Delete("/", batchHandler.Delete)
		})

		r.Get("/suppliers/{id}/ledger", purchaseHandler.SupplierLedger)

		r.Get("/notifications", notificationHandler.List)
		r.Put("/notifications/{id}/acknowledge", notificationHandler.Acknowledge)

		r.Get("/audit", auditHandler.List)
		r.Get("/audit/{entityType}/{entityID}", auditHandler.ListByEntity)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the expiry scheduler before the server drains
	scheduler.Stop()
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
