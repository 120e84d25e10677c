package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/vigilo-sec/vigilo/internal/config"
	"github.com/vigilo-sec/vigilo/internal/dlq"
	"github.com/vigilo-sec/vigilo/internal/handlers"
	"github.com/vigilo-sec/vigilo/internal/importer"
	"github.com/vigilo-sec/vigilo/internal/logging"
	"github.com/vigilo-sec/vigilo/internal/ratelimit"
	"github.com/vigilo-sec/vigilo/internal/repository"
	"github.com/vigilo-sec/vigilo/internal/server"
	"github.com/vigilo-sec/vigilo/internal/service"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vigilo",
	Short: "Vigilo security log ingestion and reporting service",
	Long: `vigilo ingests security event logs from registered sources,
persists them to PostgreSQL and serves per-group daily activity reports.`,
	Version: "0.1.0",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New(
		"file://"+cfg.Database.Postgres.MigrationsDir,
		cfg.Database.Postgres.ConnString(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func serve() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(slog.String("service", "vigilo"))
	logging.SetDefault(logger)

	slog.Info("Starting vigilo",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)

	if cfg.Database.Postgres.AutoMigrate {
		log.Println("Running database migrations...")
		if err := runMigrations(cfg); err != nil {
			return err
		}
		log.Println("Database migrations completed")
	}

	repo, err := repository.NewPostgresRepository(context.Background(), cfg.Database.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer repo.Close()

	// Seed the initial admin account on a fresh database.
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repo.EnsureAdminUser(seedCtx, "admin", "admin@vigilo.local", "admin123"); err != nil {
		log.Printf("WARNING: Failed to seed admin user: %v", err)
	}
	seedCancel()

	var limiter ratelimit.RateLimiter
	if cfg.Redis.Enabled && cfg.Ingestion.RateLimitEnabled {
		limiter, err = ratelimit.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Ingestion.RateLimitRequests,
			cfg.Ingestion.RateLimitWindow,
		)
		if err != nil {
			log.Printf("WARNING: Failed to initialize Redis rate limiter: %v", err)
			log.Println("Continuing without rate limiting")
			limiter = &ratelimit.NoOpRateLimiter{}
		} else {
			log.Printf("Rate limiting enabled: %d requests per %s",
				cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
		}
	} else {
		limiter = &ratelimit.NoOpRateLimiter{}
		log.Println("Rate limiting disabled")
	}
	defer limiter.Close()

	var dlqWriter dlq.Writer
	if cfg.DLQ.Enabled {
		switch cfg.DLQ.Backend {
		case "jetstream":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			jsQueue, err := dlq.NewJetStreamQueue(ctx, cfg.DLQ.NatsURL)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to initialize JetStream DLQ: %w", err)
			}
			dlqWriter = jsQueue
			log.Printf("Dead letter queue enabled (backend: jetstream, nats: %s)", cfg.DLQ.NatsURL)
		case "file", "":
			fileQueue, err := dlq.NewFileQueue(cfg.DLQ.BasePath)
			if err != nil {
				return fmt.Errorf("failed to initialize file DLQ: %w", err)
			}
			dlqWriter = fileQueue
			log.Printf("Dead letter queue enabled (backend: file, path: %s)", cfg.DLQ.BasePath)
			log.Println("WARNING: File-based DLQ does not support multiple service instances")
		default:
			return fmt.Errorf("unknown DLQ backend: %s (supported: jetstream, file)", cfg.DLQ.Backend)
		}
	} else {
		dlqWriter = dlq.NoOpWriter{}
		log.Println("Dead letter queue disabled")
	}
	defer dlqWriter.Close()

	ingestService := service.NewIngestService(repo, dlqWriter, logger)
	reportService := service.NewReportService(repo)
	csvImporter := importer.New(repo, logger)

	handler := handlers.New(
		ingestService, reportService, csvImporter, repo,
		limiter, logger, cfg.Ingestion.MaxBodySize,
	)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("vigilo listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
