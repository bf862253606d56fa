// package main provides the entry point for the cvefeed-backend microservice:
// a local CVE mirror kept current from the upstream feed, with structured and
// natural language search over REST and GraphQL.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/ortelius/cvefeed-backend/database"
	cves "github.com/ortelius/cvefeed-backend/events/modules/cves"
	gqlschema "github.com/ortelius/cvefeed-backend/graphql"
	"github.com/ortelius/cvefeed-backend/internal/api"
	"github.com/ortelius/cvefeed-backend/internal/config"
	"github.com/ortelius/cvefeed-backend/internal/ingest"
	"github.com/ortelius/cvefeed-backend/internal/kafka"
	"github.com/ortelius/cvefeed-backend/internal/nlsearch"
	"github.com/ortelius/cvefeed-backend/internal/params"
	"github.com/ortelius/cvefeed-backend/internal/search"
	"github.com/ortelius/cvefeed-backend/internal/upstream"
	"github.com/ortelius/cvefeed-backend/restapi"
	"github.com/ortelius/cvefeed-backend/restapi/modules/auth"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "cvefeed",
		Short:         "CVE mirror with structured and natural language search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (yaml, json or toml)")
	root.AddCommand(serveCmd(), ingestCmd(), paramsCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadRegistry(cfg *config.Config) (*params.Registry, error) {
	if cfg.SchemaPath != "" {
		return params.Load(cfg.SchemaPath)
	}
	return params.Default()
}

func paramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Print the loaded parameter schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(reg.Definitions())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for the admin routes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			verifier, err := auth.NewVerifier(cfg.JWTSecret)
			if err != nil {
				return fmt.Errorf("set CVEFEED_JWT_SECRET to issue tokens: %w", err)
			}
			token, err := verifier.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion cycle and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger := database.InitLogger()
			defer logger.Sync() //nolint:errcheck

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(ctx, cfg, store, logger)
			if err != nil {
				return err
			}

			runner := ingest.NewRunner(pipeline, logger, ingest.WithRecorder(store))
			report, runErr := runner.Run(ctx)
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report.IngestReport); err != nil {
					return err
				}
				if failed := report.Err(); failed != nil && runErr == nil {
					logger.Warn("Some records could not be ingested", zap.Strings("cve_ids", report.FailedIDs()), zap.Error(failed))
				}
			}
			return runErr
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API and keep the mirror current",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger := database.InitLogger()
			defer logger.Sync() //nolint:errcheck

			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			svc := search.NewService(reg, store)

			schema, err := gqlschema.CreateSchema(svc, store)
			if err != nil {
				return fmt.Errorf("failed to create GraphQL schema: %w", err)
			}

			pipeline, err := newPipeline(ctx, cfg, store, logger)
			if err != nil {
				return err
			}
			runnerOpts := []ingest.RunnerOption{ingest.WithRecorder(store)}
			if last, err := store.LoadIngestReport(ctx); err != nil {
				logger.Warn("Failed to load last ingestion report", zap.Error(err))
			} else if last != nil {
				runnerOpts = append(runnerOpts, ingest.WithLastReport(last))
			}
			if cfg.Kafka.Enabled() {
				producer := cves.NewReportProducer(cfg.Kafka.Brokers, cfg.Kafka.ReportTopic, kafka.NewTransport(cfg.Kafka))
				defer producer.Close()
				runnerOpts = append(runnerOpts, ingest.WithPublisher(producer))
			}
			runner := ingest.NewRunner(pipeline, logger, runnerOpts...)

			if cfg.Kafka.Enabled() {
				if err := kafka.RunEventProcessor(ctx, cfg.Kafka, runner, logger); err != nil {
					logger.Warn("Kafka event processor disabled", zap.Error(err))
				}
			}
			if cfg.Ingest.Interval > 0 {
				go runner.Schedule(ctx, cfg.Ingest.Interval)
			}

			deps := restapi.Deps{Search: svc, Runner: runner, Schema: schema, Logger: logger}
			if cfg.JWTSecret != "" {
				if deps.Auth, err = auth.NewVerifier(cfg.JWTSecret); err != nil {
					return err
				}
			}
			if cfg.OpenAI.APIKey != "" {
				model := nlsearch.NewOpenAIClient(nlsearch.OpenAIConfig{
					BaseURL: cfg.OpenAI.BaseURL,
					APIKey:  cfg.OpenAI.APIKey,
					Model:   cfg.OpenAI.Model,
				}, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
				deps.Resolver = nlsearch.NewOrchestrator(svc.Validator(), model, cfg.OpenAI.MaxRetries, logger)
			} else {
				logger.Info("OPENAI_API_KEY not set, natural language search disabled")
			}

			app := api.NewFiberApp(deps)
			go func() {
				<-ctx.Done()
				_ = app.Shutdown()
			}()

			logger.Info("Starting server", zap.String("port", cfg.Port))
			logger.Info("GraphQL endpoint available at /api/v1/graphql")
			return app.Listen(":" + cfg.Port)
		},
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.ArangoStore, error) {
	conn, err := database.InitializeDatabase(ctx, database.Config{
		URL:      cfg.Arango.URL,
		User:     cfg.Arango.User,
		Password: cfg.Arango.Password,
		Database: cfg.Arango.Database,
	}, logger)
	if err != nil {
		return nil, err
	}
	return database.NewArangoStore(conn), nil
}

// newPipeline selects the commit log and record source named by the config.
func newPipeline(ctx context.Context, cfg *config.Config, store ingest.Store, logger *zap.Logger) (*ingest.Pipeline, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	up := cfg.Upstream

	var log ingest.CommitLog
	var fetcher ingest.RecordFetcher
	switch up.Source {
	case config.SourceGit:
		mirror, err := upstream.OpenGitMirror(ctx, up.MirrorPath, up.MirrorURL, up.Branch, logger)
		if err != nil {
			return nil, err
		}
		log, fetcher = mirror, mirror
	default:
		gh := upstream.NewGitHub(upstream.GitHubConfig{
			APIURL:     up.GitHubAPIURL,
			RawURL:     up.GitHubRawURL,
			Repo:       up.Repo,
			Branch:     up.Branch,
			Token:      up.Token,
			MaxElapsed: up.MaxElapsed,
		}, client, logger)
		log, fetcher = gh, gh
		if up.Source == config.SourceCVEServices {
			fetcher = upstream.NewCVEServices(up.CVEServicesURL, up.MaxElapsed, client, logger)
		}
	}

	return ingest.NewPipeline(store, log, fetcher, ingest.Config{
		Epoch:        cfg.Ingest.Epoch,
		PageSize:     cfg.Ingest.PageSize,
		MaxPages:     cfg.Ingest.MaxPages,
		BatchSize:    cfg.Ingest.BatchSize,
		Workers:      cfg.Ingest.Workers,
		CommitAuthor: cfg.Ingest.CommitAuthor,
	}, logger), nil
}
