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
	cataloghandler "github.com/pharmstock/pharmstock-backend/internal/catalog/handler"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/consumers"
	"github.com/pharmstock/pharmstock-backend/internal/stock/events"
	stockhandler "github.com/pharmstock/pharmstock-backend/internal/stock/handler"
	stockrepo "github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("inventory-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("inventory-service", cfg.Server.Environment)
	log.Info().Msg("starting inventory service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// RabbitMQ is optional: without it the service still serves stock
	// operations, it just publishes no events and resolves no user names.
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.StockEventPublisher
	)
	rmq, err = messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, continuing without messaging")
		rmq = nil
	} else {
		defer rmq.Close()
		publisher, err = events.NewStockEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	medicineRepo := catalogrepo.NewMedicineRepository(db)
	stockRepo := stockrepo.NewStockRepository(db)
	txnRepo := stockrepo.NewTransactionRepository(db)
	userCacheRepo := stockrepo.NewUserCacheRepository(db)

	stockService := service.NewStockService(stockRepo, txnRepo, medicineRepo, publisher, log)

	medicineHandler := cataloghandler.NewMedicineHandler(medicineRepo, log)
	lotHandler := stockhandler.NewLotHandler(stockService, log)
	txnHandler := stockhandler.NewTransactionHandler(stockService, log)
	reportHandler := stockhandler.NewReportHandler(stockService, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if rmq != nil {
		userConsumer, err := consumers.NewUserEventConsumer(rmq, userCacheRepo, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create user event consumer")
		}
		if err := userConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start user event consumer")
		}
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Email", "X-User-First-Name", "X-User-Last-Name", "X-User-Role"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.ActorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  "inventory-service",
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/medicines", func(r chi.Router) {
			r.Get("/", medicineHandler.List)
			r.Post("/", medicineHandler.Create)
			r.Get("/code/{code}", medicineHandler.GetByCode)
			r.Get("/{id}", medicineHandler.Get)
			r.Put("/{id}", medicineHandler.Update)
			r.Delete("/{id}", medicineHandler.Deactivate)
			r.Get("/{id}/lots", lotHandler.ListByMedicine)
			r.Get("/{id}/availability", lotHandler.Availability)
			r.Post("/{id}/allocate", lotHandler.Allocate)
		})

		r.Route("/lots", func(r chi.Router) {
			r.Get("/", lotHandler.List)
			r.Post("/", lotHandler.Create)
			r.Get("/{id}", lotHandler.Get)
			r.Post("/{id}/adjust", lotHandler.Adjust)
			r.Post("/{id}/dispose", lotHandler.Dispose)
			r.Post("/{id}/return", lotHandler.Return)
			r.Post("/{id}/transfer", lotHandler.Transfer)
			r.Get("/{id}/transactions", lotHandler.History)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", txnHandler.List)
			r.Get("/recent", txnHandler.Recent)
			r.Get("/{id}", txnHandler.Get)
			r.Post("/{id}/reverse", txnHandler.Reverse)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/transactions/summary", reportHandler.TransactionSummary)
			r.Get("/transactions/daily", reportHandler.DailyStatistics)
			r.Get("/departments", reportHandler.DepartmentActivity)
			r.Get("/stock-status", reportHandler.StockStatus)
			r.Get("/low-stock", reportHandler.LowStock)
			r.Get("/expiring", reportHandler.Expiring)
			r.Get("/expired", reportHandler.Expired)
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers before closing connections
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
