package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/viper"

	"github.com/slotwise/backend/internal/config"
	"github.com/slotwise/backend/internal/database"
	"github.com/slotwise/backend/internal/handlers"
	mW "github.com/slotwise/backend/internal/middleware"
	"github.com/slotwise/backend/internal/models"
	"github.com/slotwise/backend/internal/provider"
	"github.com/slotwise/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("amqp.url", "AMQP_URL")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("settlement.lock_ttl", "SETTLEMENT_LOCK_TTL")
	viper.BindEnv("settlement.lock_max_wait", "SETTLEMENT_LOCK_MAX_WAIT")
	viper.BindEnv("settlement.idempotency_ttl", "SETTLEMENT_IDEMPOTENCY_TTL")
	viper.BindEnv("settlement.replay_wait", "SETTLEMENT_REPLAY_WAIT")

	settlementCfg := config.LoadSettlementConfig()

	// Initialize backing stores
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	defer redisClient.Close()

	// Core services
	ledger := services.NewSQLCapacityLedger(db)
	locks := services.NewLockService(redisClient)
	idempotency := services.NewIdempotencyService(redisClient, settlementCfg.IdempotencyTTL, settlementCfg.ReplayWait)
	paymentProvider := provider.NewMockProvider()

	// Event dispatcher: handler table and failure policies are fixed at
	// startup. Financial transitions abort remaining handlers on failure;
	// reservation fan-out is best effort.
	dispatcher := services.NewEventDispatcher()
	dispatcher.Register(models.EventReservationConfirmed, services.NewAuditHandler())
	dispatcher.Register(models.EventReservationConfirmed, services.NewNotificationHandler(nil))
	dispatcher.Register(models.EventReservationCancelled, services.NewAuditHandler())
	dispatcher.Register(models.EventReservationCancelled, services.NewNotificationHandler(nil))
	dispatcher.Register(models.EventInvoiceSettled, services.NewAuditHandler())
	dispatcher.Register(models.EventInvoiceSettled, services.NewNotificationHandler(nil))
	dispatcher.SetPolicy(models.EventInvoiceSettled, services.AbortOnFailure)
	dispatcher.SetPolicy(models.EventReservationConfirmed, services.ContinueOnFailure)
	dispatcher.SetPolicy(models.EventReservationCancelled, services.ContinueOnFailure)

	// External event sink via AMQP, registered when a broker is configured.
	viper.SetDefault("amqp.url", "")
	if amqpURL := viper.GetString("amqp.url"); amqpURL != "" {
		conn, err := amqp.Dial(amqpURL)
		if err != nil {
			log.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		defer conn.Close()

		channel, err := conn.Channel()
		if err != nil {
			log.Fatalf("Failed to open AMQP channel: %v", err)
		}
		defer channel.Close()

		publisher := services.NewQueuePublisherHandler(channel)
		dispatcher.Register(models.EventReservationConfirmed, publisher)
		dispatcher.Register(models.EventReservationCancelled, publisher)
		dispatcher.Register(models.EventInvoiceSettled, publisher)
		log.Println("AMQP event sink registered")
	}

	settlementService := services.NewSettlementService(
		db, ledger, locks, idempotency, dispatcher, paymentProvider,
		settlementCfg.LockTTL, settlementCfg.LockMaxWait,
	)

	reservationHandler := handlers.NewReservationHandler(settlementService)
	settlementHandler := handlers.NewSettlementHandler(settlementService)
	resourceHandler := handlers.NewResourceHandler(ledger)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/resources", resourceHandler.CreateResource)
			r.Get("/resources/{resourceId}", resourceHandler.GetResource)

			r.Post("/reservations", reservationHandler.CreateReservation)
			r.Post("/reservations/{reservationId}/cancel", reservationHandler.CancelReservation)

			r.Post("/settlements", settlementHandler.SettleInvoice)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
