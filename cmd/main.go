package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/richgarden/paygate/infra/config"
	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/infra/middle"
	"github.com/richgarden/paygate/infra/opensearch"
	"github.com/richgarden/paygate/infra/response"
	"github.com/richgarden/paygate/notify"
	"github.com/richgarden/paygate/provider"
	"github.com/richgarden/paygate/provider/click"
	"github.com/richgarden/paygate/provider/payme"
	"github.com/richgarden/paygate/router"
	"github.com/richgarden/paygate/storage"
)

var openSearchLogger *opensearch.Logger

func init() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := config.GetAppConfig()
	if cfg.EnableLogging {
		osClient, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			openSearchLogger = opensearch.NewLogger(osClient)
			log.Println("OpenSearch logging initialized successfully")
		}
	} else {
		log.Println("OpenSearch logging is disabled")
	}

	if err := logger.InitGlobalLogger(openSearchLogger); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}

func main() {
	cfg := config.GetAppConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to open storage", err)
	}
	defer store.Close()

	// Notifier is optional; without credentials paid orders are only logged.
	var notifier provider.Notifier
	tgCfg := config.LoadTelegramConfig()
	if tgCfg.BotToken != "" && tgCfg.ChatID != "" {
		notifier = notify.NewTelegramNotifier(tgCfg)
	} else {
		logger.Warn("telegram notifier not configured")
	}
	reconciler := provider.NewReconciler(store, notifier)

	deps := router.Deps{
		Orders:      store,
		Environment: cfg.Environment,
		OSLogger:    openSearchLogger,
	}

	if clickCfg, err := config.LoadClickConfig(); err != nil {
		logger.Warn("click gateway not configured", logger.LogContext{
			Fields: map[string]any{"error": err.Error()},
		})
	} else {
		clickGw := click.New(clickCfg, store, reconciler)
		deps.Click = clickGw
		deps.ClickOut = clickGw
	}

	if paymeCfg, err := config.LoadPaymeConfig(); err != nil {
		logger.Warn("payme gateway not configured", logger.LogContext{
			Fields: map[string]any{"error": err.Error()},
		})
	} else {
		merchant := payme.NewMerchant(paymeCfg, store, store, reconciler)
		deps.Merchant = merchant
		deps.Checkout = merchant
		deps.Subscribe = payme.NewSubscribe(paymeCfg, store, reconciler)
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middle.SecurityHeadersMiddleware())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Auth", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Routes(r, deps)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = response.WriteJSON(w, http.StatusNotFound, response.Response{Success: false, Message: "Not Found"})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("paygate is running", logger.LogContext{
			Fields: map[string]any{"port": cfg.Port, "db_driver": cfg.DBDriver},
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", err)
	}
}
