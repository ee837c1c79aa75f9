package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/schoolledger/schoolledger/cmd/schoolledger/cli"
	"github.com/schoolledger/schoolledger/internal/app"
	"github.com/schoolledger/schoolledger/jobs"
)

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  schoolledger [serve]                     run the HTTP API")
	fmt.Fprintln(os.Stderr, "  schoolledger jobs trigger|stats|scheduled manage background jobs")
	fmt.Fprintln(os.Stderr, "  schoolledger backup export|import        encrypted backup of every collection")
	fmt.Fprintln(os.Stderr, "  schoolledger seed                        load a demo school into an empty store")
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	cmd := "serve"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	case "backup":
		os.Exit(runBackup(ctx, cfg, logger, args))
	case "seed":
		err = runSeed(ctx, cfg, logger)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Cache.ListenForInvalidation(ctx, func(version int64) {
		logger.Debug("report cache bumped", slog.Int64("version", version))
	}); err != nil {
		logger.Warn("report cache listener", slog.Any("error", err))
	}
	if err := rt.PDF.Ping(ctx); err != nil {
		logger.Warn("gotenberg unavailable, statements will not render as PDF", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.RouterFor(cfg, logger, rt, jobHandler),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.JobsCommand(ctx, args, os.Stdout, os.Stderr)
}

func runBackup(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	kv, client, pool, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup: %v\n", err)
		return 1
	}
	defer func() {
		if client != nil {
			_ = client.Close()
		}
		if pool != nil {
			pool.Close()
		}
	}()
	return cli.NewBackupCLI(kv, cfg.BackupPassphrase).BackupCommand(ctx, args, os.Stdout, os.Stderr)
}

func runSeed(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return cli.Seeder{
		Billing:      rt.Billing,
		Promotion:    rt.Promotion,
		Expenses:     rt.Expenses,
		ExtraBilling: rt.ExtraBilling,
		Out:          os.Stdout,
	}.SeedDemo(ctx, time.Now())
}
