package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sitecrew/cli/internal/application"
	"sitecrew/cli/internal/command"
	"sitecrew/cli/internal/config"
	"sitecrew/cli/internal/global"
	"sitecrew/cli/internal/logging"
)

var version = "dev"
var buildTime = "unknown"

var startApplication = application.StartApplication

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, os.Stdout, cfg)
		},
		RunMigrateUp: runMigrateUp,
		RunExport: func(ctx context.Context, cfg config.Config, path string) error {
			return runExport(ctx, os.Stdout, cfg, path)
		},
		Version: version,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "sitecrew"}).Error("sitecrew failed", "err", err)
		os.Exit(1)
	}
}

func startOptions(cfg config.Config) application.StartOptions {
	return application.StartOptions{
		DBDSN:     cfg.DBDSN,
		LocalHost: cfg.LocalHost,
		LocalPort: cfg.LocalPort,
		LogLevel:  cfg.ListenLogLevel,
		OpenAI: application.OpenAIOptions{
			Endpoint:      cfg.OpenAIEndpoint,
			APIKey:        cfg.OpenAIAPIKey,
			Model:         cfg.OpenAIModel,
			DeepModel:     cfg.DeepModel,
			RealtimeModel: cfg.RealtimeModel,
			TraceStream:   cfg.TraceStream,
		},
		WebUI: application.WebUIOptions{
			Mode:        cfg.WebUIMode,
			DevProxyURL: cfg.WebUIDevProxy,
			DistDir:     cfg.WebUIDistDir,
		},
	}
}

func runServe(ctx context.Context, out io.Writer, cfg config.Config) error {
	app, err := startApplication(ctx, startOptions(cfg))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "sitecrew listening at %s (version=%s built=%s)\n", app.LocalAPIBaseURL(), version, buildTime)
	return app.Run(ctx)
}

func runMigrateUp(ctx context.Context, cfg config.Config) error {
	return application.MigrateUp(ctx, resolveDSN(cfg))
}

func runExport(ctx context.Context, out io.Writer, cfg config.Config, path string) error {
	snap, err := application.Export(ctx, resolveDSN(cfg), path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "exported %d projects and %d knowledge entries to %s\n", len(snap.Projects), len(snap.Knowledge), path)
	return nil
}

func resolveDSN(cfg config.Config) string {
	if cfg.DBDSN != "" {
		return cfg.DBDSN
	}
	dir, err := global.DefaultConfigDir()
	if err != nil {
		return "sitecrew.db"
	}
	return filepath.Join(dir, "sitecrew.db")
}
