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
	"github.com/lockpool/escrow/docs"
	"github.com/lockpool/escrow/internal/config"
	"github.com/lockpool/escrow/internal/database"
	"github.com/lockpool/escrow/internal/handlers"
	mW "github.com/lockpool/escrow/internal/middleware"
	"github.com/lockpool/escrow/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Lockpool Escrow API
// @version 1.0
// @description API for hash-time-locked token escrow
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Lockpool Escrow API"
	docs.SwaggerInfo.Description = "API for hash-time-locked token escrow"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	escrowCfg := config.LoadEscrowConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	lockStore := services.NewPostgresLockStore(db)
	tokenLedger := services.NewTokenLedgerService(db)
	eventService := services.NewEventService(db, redisClient, escrowCfg.EventQueue)
	escrowService := services.NewEscrowService(lockStore, tokenLedger, eventService, nil)
	claimQRService := services.NewClaimQRService(escrowCfg.ClaimURIPrefix)
	settlementService := services.NewSettlementService(escrowCfg.SettlementBIC)

	escrowHandler := handlers.NewEscrowHandler(escrowService, eventService, claimQRService, settlementService)
	accountHandler := handlers.NewAccountHandler(tokenLedger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// All escrow endpoints require an authenticated principal
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/locks", escrowHandler.CreateLock)
			r.Get("/locks", escrowHandler.ListLocks)
			r.Get("/locks/{hashlock}", escrowHandler.GetLock)
			r.Get("/locks/{hashlock}/qr", escrowHandler.GetClaimQR)
			r.Post("/locks/{hashlock}/withdraw", escrowHandler.WithdrawLock)
			r.Post("/locks/{hashlock}/refund", escrowHandler.RefundLock)

			r.Get("/events", escrowHandler.ListEvents)
			r.Post("/settlements/export", escrowHandler.ExportSettlement)

			r.Post("/allowances", accountHandler.Approve)
			r.Get("/accounts/balance", accountHandler.BalanceEnquiry)
			r.Get("/accounts/statement", accountHandler.Statement)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
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

	// Wait for interrupt signal
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
