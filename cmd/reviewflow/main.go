package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/efisher/reviewflow/internal/adapter/driven/github"
	genaiadapter "github.com/efisher/reviewflow/internal/adapter/driven/genai"
	sqliteadapter "github.com/efisher/reviewflow/internal/adapter/driven/sqlite"
	httphandler "github.com/efisher/reviewflow/internal/adapter/driving/http"
	"github.com/efisher/reviewflow/internal/application"
	"github.com/efisher/reviewflow/internal/config"
)

// retryBackoffBase is the first redelivery delay after a failed review.
const retryBackoffBase = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"comment_mode", string(cfg.CommentMode),
		"dry_run", cfg.DryRun,
		"two_stage", cfg.TwoStage(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	queue := sqliteadapter.NewQueueRepo(db, cfg.MaxReceiveCount, retryBackoffBase)
	ledger := sqliteadapter.NewLedgerRepo(db, cfg.LedgerTTL)
	results := sqliteadapter.NewResultRepo(db)
	secrets := sqliteadapter.NewSecretRepo(db, cfg.SecretKey)

	// 6. Resolve credentials: stored secrets take priority over env vars.
	ghToken := cfg.GitHubToken
	if stored, err := secrets.Get(ctx, "github"); err == nil && stored != "" {
		ghToken = stored
	}
	genaiKey := cfg.GenAIAPIKey
	if stored, err := secrets.Get(ctx, "genai"); err == nil && stored != "" {
		genaiKey = stored
	}

	// 7. Create the worker pipeline when its dependencies are configured.
	// The webhook keeps accepting and enqueueing either way; messages wait
	// in the queue until a fully configured instance consumes them.
	switch {
	case ghToken == "":
		slog.Warn("no github token configured, review worker disabled")
	case genaiKey == "":
		slog.Warn("no genai api key configured, review worker disabled")
	case cfg.ReviewerModel == "":
		slog.Warn("no reviewer model configured, review worker disabled")
	default:
		ghClient := githubadapter.NewClient(ghToken)

		models, err := genaiadapter.NewClient(ctx, genaiKey)
		if err != nil {
			return err
		}

		orchestrator := application.NewOrchestrator(models, application.OrchestratorConfig{
			PlannerModel:    cfg.PlannerModel,
			ReviewerModel:   cfg.ReviewerModel,
			MaxFiles:        cfg.MaxFiles,
			MaxDiffBytes:    cfg.MaxDiffBytes,
			MaxOutputTokens: cfg.MaxOutputTokens,
		})
		publish := application.NewPublishService(ghClient, results, queue, cfg.DryRun)
		processor := application.NewProcessor(ledger, ghClient, orchestrator, publish, cfg.CommentMode)

		worker := application.NewWorker(queue, processor, application.WorkerConfig{
			Workers:        cfg.Workers,
			BatchSize:      cfg.BatchSize,
			Lease:          cfg.LeaseTimeout,
			ProcessTimeout: cfg.ProcessTimeout,
			PollInterval:   cfg.PollInterval,
		})
		go worker.Start(ctx)
	}

	// 8. Create HTTP handler and register routes.
	handler := httphandler.NewHandler(queue, ledger, results, queue, []byte(cfg.WebhookSecret), slog.Default())
	mux := httphandler.NewServeMux(handler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("reviewflow started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
