package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hive-corporation/riskwatch/internal/adapter/connector"
	"github.com/hive-corporation/riskwatch/internal/adapter/exporter"
	"github.com/hive-corporation/riskwatch/internal/adapter/repository"
	"github.com/hive-corporation/riskwatch/internal/config"
	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/engine"
)

var (
	configPath string
	log        = logrus.New()
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded .env")
	}

	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Operator tooling for the riskwatch engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(syncCmd())
	root.AddCommand(correlateCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(transitionCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(rulesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	return cfg
}

func connectDB(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	return pool
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [connector]",
		Short: "Sync all feeds, or a single named connector, and store the indicators",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			cfg := loadConfig()
			pool := connectDB(ctx, cfg)
			defer pool.Close()

			registry := connector.BuildRegistry(cfg.Connectors, 4, log)
			repo := repository.NewPostgresIndicatorRepository(pool)

			if len(args) == 1 {
				indicators, err := registry.SyncOne(ctx, args[0])
				if err != nil {
					return err
				}
				if err := repo.SaveBatch(ctx, indicators); err != nil {
					return err
				}
				fmt.Printf("✅ %s: %d indicators\n", args[0], len(indicators))
				return nil
			}

			for _, batch := range registry.SyncAll(ctx) {
				if batch.Err != nil {
					fmt.Printf("❌ %s: %v\n", batch.Connector, batch.Err)
					continue
				}
				if err := repo.SaveBatch(ctx, batch.Indicators); err != nil {
					return err
				}
				fmt.Printf("✅ %s: %d indicators\n", batch.Connector, len(batch.Indicators))
			}
			return nil
		},
	}
}

func correlateCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Run a correlation pass over recently seen indicators",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			cfg := loadConfig()
			pool := connectDB(ctx, cfg)
			defer pool.Close()

			indicators, err := repository.NewPostgresIndicatorRepository(pool).
				FindSince(ctx, time.Now().Add(-since), 10000)
			if err != nil {
				return err
			}

			clusters := repository.NewPostgresClusterRepository(pool)
			result, err := engine.NewCorrelationEngine(clusters, nil, nil, log).Correlate(ctx, indicators)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s: %d clusters from %d indicators\n", result.RunID, len(result.Clusters), len(indicators))
			for _, c := range result.Clusters {
				actor := "-"
				if c.Attribution != nil {
					actor = c.Attribution.Actor
				}
				fmt.Printf("  [%s] %d members, strength %.2f, confidence %.2f, risk %s, actor %s\n",
					c.Type, len(c.MemberIDs), c.Strength, c.Confidence, c.RiskLevel, actor)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "indicator lookback window")
	return cmd
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <risk-id>",
		Short: "Compute and append a contextual score for a risk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			cfg := loadConfig()
			pool := connectDB(ctx, cfg)
			defer pool.Close()

			risk, err := repository.NewPostgresRiskRepository(pool).FindByID(ctx, args[0])
			if err != nil {
				return err
			}
			if risk == nil {
				return fmt.Errorf("risk %s not found", args[0])
			}

			scores := repository.NewPostgresScoreRepository(pool)
			score, err := engine.NewScoringEngine(scores, nil, cfg.Org, log).Score(ctx, risk)
			if err != nil {
				return err
			}

			fmt.Printf("Risk %s\n", risk.ID)
			fmt.Printf("  base   %.1f\n", score.BaseScore)
			fmt.Printf("  threat %.2f  vuln %.2f  impact %.2f  targeting %.2f\n",
				score.Multipliers.ThreatLandscape, score.Multipliers.Vulnerability,
				score.Multipliers.Impact, score.Multipliers.Targeting)
			fmt.Printf("  final  %.2f (%s confidence)\n", score.FinalScore, score.Confidence)
			return nil
		},
	}
}

func transitionCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "transition <risk-id> <state>",
		Short: "Move a risk to a new lifecycle state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			cfg := loadConfig()
			pool := connectDB(ctx, cfg)
			defer pool.Close()

			risks := repository.NewPostgresRiskRepository(pool)
			lifecycle := engine.NewLifecycle(risks, nil, cfg.TrustedFeeds, log)

			to := domain.DynamicState(args[1])
			if err := lifecycle.Transition(ctx, args[0], to, reason, false, "riskctl"); err != nil {
				return err
			}
			fmt.Printf("✅ %s -> %s\n", args[0], to)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual transition", "audit reason")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		since time.Duration
		runID string
	)

	cmd := &cobra.Command{
		Use:   "export <stix|cef>",
		Short: "Export stored indicators as a STIX 2.1 bundle or CEF events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			cfg := loadConfig()
			pool := connectDB(ctx, cfg)
			defer pool.Close()

			indicators := repository.NewPostgresIndicatorRepository(pool)

			var out string
			var err error
			switch args[0] {
			case "stix":
				clusters := repository.NewPostgresClusterRepository(pool)
				exp := exporter.NewSTIXExporter(indicators, clusters)
				if runID != "" {
					out, err = exp.ExportRun(ctx, runID)
				} else {
					out, err = exp.Export(ctx, time.Now().Add(-since))
				}
			case "cef":
				if runID != "" {
					return fmt.Errorf("--run only applies to stix export")
				}
				out, err = exporter.NewCEFExporter(indicators).Export(ctx, time.Now().Add(-since))
			default:
				return fmt.Errorf("unknown export format %q", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "indicator lookback window")
	cmd.Flags().StringVar(&runID, "run", "", "export the clusters of a single correlation run (stix only)")
	return cmd
}

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Manage risk creation rules",
	}

	rules.AddCommand(&cobra.Command{
		Use:   "lint",
		Short: "Validate every rule file in the configured rules directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			loaded, err := config.LoadRules(cfg.RulesDir)
			if err != nil {
				return err
			}

			bad := 0
			for _, rule := range loaded {
				if err := engine.LintRule(rule); err != nil {
					fmt.Printf("❌ %s: %v\n", rule.ID, err)
					bad++
					continue
				}
				fmt.Printf("✅ %s (%s)\n", rule.ID, rule.Name)
			}
			if bad > 0 {
				return fmt.Errorf("%d invalid rule(s)", bad)
			}
			fmt.Printf("%d rules ok\n", len(loaded))
			return nil
		},
	})

	return rules
}
