package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sujalbistaa/pollwave/internal/config"
	"github.com/sujalbistaa/pollwave/internal/db"
	routes "github.com/sujalbistaa/pollwave/internal/http"
	"github.com/sujalbistaa/pollwave/internal/logger"
	"github.com/sujalbistaa/pollwave/internal/metrics"
	"github.com/sujalbistaa/pollwave/internal/notify"
	"github.com/sujalbistaa/pollwave/internal/poll"
	"github.com/sujalbistaa/pollwave/internal/profile"
	"github.com/sujalbistaa/pollwave/internal/pubsub"
	"github.com/sujalbistaa/pollwave/internal/ws"
)

const dbStatsInterval = 15 * time.Second

func main() {
	// Production sets variables directly; a missing .env is fine.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New("pollwave", cfg.LogLevel)
	if envErr != nil {
		log.Debug("no .env file found, reading from environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Database
	database, err := db.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	log.Info("running database migrations")
	if err := db.Migrate(database); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	m := metrics.NewMetrics()
	if sqlDB, err := database.DB(); err == nil {
		go m.WatchDB(ctx, sqlDB, dbStatsInterval)
	}

	// 2. Change notification: the hub serves local sockets; with Redis,
	// events go out through the channel and come back to every hub.
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	var transport notify.Publisher = hub
	if cfg.RedisURL != "" {
		r, err := pubsub.NewRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		defer r.Close()
		go r.Bridge(ctx, hub)
		transport = r
		log.Info("redis event bridge enabled")
	}
	events := notify.Multi{transport, m}

	// 3. Domain services
	var resolver poll.IdentityResolver = poll.AddressResolver{Salt: cfg.AddressHashSalt}
	if cfg.AnonIdentity == config.AnonIdentityToken {
		resolver = poll.TokenResolver{Secret: cfg.VoterTokenSecret}
	}
	analytics := poll.NewAggregator(database, events, m, log)
	ledger := poll.NewLedger(database, resolver, analytics, events, m, log)
	ledger.DedupeAnonymous = cfg.AnonDedupe

	if cfg.ReconcileInterval > 0 {
		go analytics.Run(ctx, cfg.ReconcileInterval)
	}

	env := &routes.Env{
		DB:        database,
		Polls:     poll.NewManager(database, analytics, events, log),
		Ledger:    ledger,
		Analytics: analytics,
		Profiles:  profile.NewStore(database, log),
		Hub:       hub,
		Metrics:   m,
		Config:    cfg,
		Log:       log,
	}

	// 4. Router
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := routes.SetupRoutes(ctx, router, env); err != nil {
		log.WithError(err).Fatal("failed to set up routes")
	}

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
		os.Exit(1)
	}

	log.Info("server exiting")
}
