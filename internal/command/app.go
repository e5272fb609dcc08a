package command

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"sitecrew/cli/internal/config"
)

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
	RunExport    func(ctx context.Context, cfg config.Config, path string) error
	Version      string
}

func BuildApp(deps Deps) *cli.App {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	return &cli.App{
		Name:    "sitecrew",
		Usage:   "multi-agent website builder",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "listen host (overrides SITECREW_LOCAL_HOST)"},
			&cli.IntFlag{Name: "port", Usage: "listen port (overrides SITECREW_LOCAL_PORT)"},
			&cli.StringFlag{Name: "db", Usage: "database dsn (overrides SITECREW_DB_DSN)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(ctx, deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the local server",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps, loadConfig(ctx, deps))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							return runMigrateUp(ctx.Context, deps, loadConfig(ctx, deps))
						},
					},
				},
			},
			{
				Name:      "export",
				Usage:     "write all projects and knowledge entries to a JSON file",
				ArgsUsage: "<file>",
				Action: func(ctx *cli.Context) error {
					path := ctx.Args().First()
					if path == "" {
						return cli.Exit("export needs a target file", 2)
					}
					return runExport(ctx.Context, deps, loadConfig(ctx, deps), path)
				},
			},
		},
	}
}

// loadConfig reads the environment and applies global flags on top.
func loadConfig(ctx *cli.Context, deps Deps) config.Config {
	var cfg config.Config
	if deps.LoadConfig != nil {
		cfg = deps.LoadConfig()
	} else {
		cfg = config.LoadConfig()
	}
	if v := ctx.String("host"); v != "" {
		cfg.LocalHost = v
	}
	if v := ctx.Int("port"); v > 0 {
		cfg.LocalPort = v
	}
	if v := ctx.String("db"); v != "" {
		cfg.DBDSN = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.ListenLogLevel = v
	}
	return cfg
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}

func runExport(ctx context.Context, deps Deps, cfg config.Config, path string) error {
	if deps.RunExport == nil {
		return errors.New("export runner is not configured")
	}
	return deps.RunExport(ctx, cfg, path)
}
