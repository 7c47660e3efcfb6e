package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"snowpark-booking/internal/booking"
	"snowpark-booking/internal/booking/api"
	"snowpark-booking/internal/booking/db"
	bookingkafka "snowpark-booking/internal/booking/kafka"
	rediswrap "snowpark-booking/internal/booking/redis"
	"snowpark-booking/internal/config"
	"snowpark-booking/internal/gateway"
	"snowpark-booking/internal/logger"
	"snowpark-booking/internal/metrics"
)

func main() {
	ctx := context.Background()

	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Close()

	// --- PostgreSQL Setup ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	if err := db.Migrate(bunDB); err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Migration failed: %v", err))
	}

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Dependencies ---
	store := &db.DB{Bun: bunDB}
	locker := rediswrap.NewLocker(redisClient, cfg.Redis.LockTTL)

	var events booking.Publisher
	if cfg.Kafka.Enabled {
		producer := bookingkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		events = producer
		log.Info("STARTUP", fmt.Sprintf("Kafka producer on topic %s", cfg.Kafka.Topic))
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		AccessToken:   cfg.Gateway.AccessToken,
		ReturnBaseURL: cfg.Gateway.ReturnBaseURL,
		Currency:      cfg.Gateway.Currency,
		TestMode:      cfg.Gateway.TestMode,
		Timeout:       cfg.Gateway.Timeout,
	})
	if !gatewayClient.Configured() {
		log.Warn("STARTUP", "Payment gateway token not configured; bookings will be recorded without payment links")
	}

	service := booking.NewService(store, gatewayClient, locker, events, log,
		cfg.Tickets.UnitPrice, cfg.Tickets.MaxPerBooking)
	handler := &api.Handler{
		Service:     service,
		Passes:      booking.NewPassGenerator(cfg.Tickets.PassSecret),
		Logger:      log,
		AdminSecret: cfg.Admin.Secret,
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	r.Post("/api/v1/bookings", handler.CreateBooking)
	r.Get("/api/v1/bookings/{bookingID}", handler.GetBooking)
	r.Get("/api/v1/bookings/{bookingID}/pass", handler.EntryPass)
	r.Get("/payment/return", handler.PaymentReturn)

	r.Group(func(r chi.Router) {
		r.Use(handler.AdminOnly)
		r.Post("/api/v1/admin/reconcile", handler.Reconcile)
		r.Put("/api/v1/admin/bookings/{bookingID}/status", handler.OverrideStatus)
		r.Get("/api/v1/admin/bookings", handler.ListBookings)
		r.Get("/api/v1/admin/summary", handler.Summary)
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// --- Optional periodic sweep ---
	sweepDone := make(chan struct{})
	if cfg.Sweep.Interval > 0 {
		ticker := time.NewTicker(cfg.Sweep.Interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if _, err := service.ReconcileAll(context.Background()); err != nil {
						log.Error("SWEEP", fmt.Sprintf("periodic sweep failed: %v", err))
					}
				case <-sweepDone:
					return
				}
			}
		}()
		log.Info("STARTUP", fmt.Sprintf("Periodic sweep every %s", cfg.Sweep.Interval))
	}

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("STARTUP", fmt.Sprintf("Booking service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SHUTDOWN", "Shutdown signal received")
	close(sweepDone)

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("SHUTDOWN", fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	log.Info("SHUTDOWN", "Server exited gracefully")
}
