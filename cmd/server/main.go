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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/api"
	"github.com/socialpulse/ig-insights/internal/config"
	"github.com/socialpulse/ig-insights/internal/credentials"
	"github.com/socialpulse/ig-insights/internal/graph"
	"github.com/socialpulse/ig-insights/internal/insights"
	"github.com/socialpulse/ig-insights/internal/models"
	"github.com/socialpulse/ig-insights/internal/normalize"
	"github.com/socialpulse/ig-insights/internal/notifications"
	"github.com/socialpulse/ig-insights/internal/scheduler"
	"github.com/socialpulse/ig-insights/internal/storage"
	"github.com/socialpulse/ig-insights/internal/trends"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting Instagram Insights service")

	// Storage for the refreshed credential and digest history
	store, err := storage.New(cfg.StorageAccount, cfg.StorageContainer, cfg.LocalStorageDir)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	// Credential manager
	opts := credentials.Options{
		Store:    store,
		Margin:   cfg.TokenRefreshMargin,
		Lifetime: cfg.TokenLifetime,
	}
	// One rate limit covers data calls and token endpoint calls
	limiter := graph.NewLimiter(cfg.GraphRateLimit, cfg.GraphRateBurst, cfg.GraphRateMaxWait)
	if cfg.CanRefresh() {
		refresher := credentials.NewGraphRefresher(cfg.GraphURL(), cfg.AppID, cfg.AppSecret, cfg.TokenLifetime).
			WithLimiter(limiter)
		opts.Refresher = refresher
		opts.Inspector = refresher
	} else {
		logrus.Warn("APP_ID/APP_SECRET not set, the access token will not be refreshed")
	}
	manager := credentials.NewManager(models.Credential{}, opts)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), time.Minute)
	manager.Bootstrap(bootCtx, cfg.AccessToken, cfg.AccessTokenExpires)

	// Graph API client shared by every caller
	graphOpts := graph.OptionsFromConfig(cfg)
	graphOpts.Limiter = limiter
	client := graph.NewClient(graphOpts, manager)

	if cfg.InstagramAccountID == "" {
		accountID, err := insights.ResolveAccountID(bootCtx, client, cfg.PageID)
		if err != nil {
			logrus.Fatalf("Failed to resolve Instagram account from page %s: %v", cfg.PageID, err)
		}
		cfg.InstagramAccountID = accountID
		logrus.WithField("account_id", accountID).Info("Resolved Instagram business account")
	}
	cancelBoot()

	// Insights engine
	normalizer := normalize.New(normalize.Options{CaptionMaxLength: cfg.CaptionMaxLength})
	insightsService := insights.NewService(client, normalizer, trends.DefaultRegistry(), insights.OptionsFromConfig(cfg, store))

	// Initialize notification services
	notificationService := notifications.NewService(cfg)
	if !cfg.NotificationsEnabled() {
		logrus.Info("No notification channel configured, digests and alerts will only be logged")
	}

	// Initialize scheduler
	schedulerService := scheduler.NewService(cfg, manager, insightsService, notificationService)

	// Start scheduler
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	var digests api.DigestRunner
	if scheduler.DigestExpression(cfg.DigestSchedule) != "" {
		digests = schedulerService
	}
	handler := api.NewHandler(insightsService, manager, digests)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.RequestTimeout),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}
