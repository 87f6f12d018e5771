package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/riskwatch/internal/adapter/connector"
	"github.com/hive-corporation/riskwatch/internal/adapter/notifier"
	"github.com/hive-corporation/riskwatch/internal/adapter/repository"
	"github.com/hive-corporation/riskwatch/internal/config"
	"github.com/hive-corporation/riskwatch/internal/core/engine"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
	"github.com/hive-corporation/riskwatch/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// .env is optional, only needed for local development
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("🔌 Connecting to database...")
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer dbPool.Close()

	indicators := repository.NewPostgresIndicatorRepository(dbPool)
	risks := repository.NewPostgresRiskRepository(dbPool)
	clusters := repository.NewPostgresClusterRepository(dbPool)
	scores := repository.NewPostgresScoreRepository(dbPool)
	procLog := repository.NewPostgresProcessingLog(dbPool)

	registry := connector.BuildRegistry(cfg.Connectors, 4, log)

	rules, err := config.LoadRules(cfg.RulesDir)
	if err != nil {
		log.WithError(err).Warn("no rules loaded, falling back to confidence threshold")
	}
	ruleEngine := engine.NewRuleEngine(rules, log)

	var notify ports.Notifier
	if cfg.Slack.BotToken != "" {
		notify = notifier.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, cfg.Slack.MentionTeam)
	}

	lifecycle := engine.NewLifecycle(risks, notify, cfg.TrustedFeeds, log)
	correlation := engine.NewCorrelationEngine(clusters, nil, notify, log)
	scoring := engine.NewScoringEngine(scores, nil, cfg.Org, log)

	pipeline := engine.NewPipeline(registry, ruleEngine, lifecycle, correlation, scoring, risks, indicators, procLog, log)

	// HTTP surface: health, connector status, prometheus
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(registry.HealthSnapshot())
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("🚀 Riskwatch listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	// Pipeline ticks until shutdown. First run fires immediately.
	go func() {
		runPipeline(ctx, pipeline, log)

		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runPipeline(ctx, pipeline, log)
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
}

func runPipeline(ctx context.Context, pipeline *engine.Pipeline, log *logrus.Logger) {
	report, err := pipeline.Run(ctx)
	if err != nil {
		log.WithError(err).Error("pipeline run failed")
		return
	}
	log.WithFields(logrus.Fields{
		"synced":   report.Synced,
		"created":  report.Created,
		"updated":  report.Updated,
		"skipped":  report.Skipped,
		"clusters": report.Clusters,
		"took":     report.Finished.Sub(report.Started).String(),
	}).Info("✅ Pipeline run complete")
}
