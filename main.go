package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"realtime-service/internal/config"
	"realtime-service/internal/db"
	"realtime-service/internal/logger"
)

var version = "dev"

type flags struct {
	configPath string
	migrate    bool

	cfg *config.Config
	log *logger.Logger
}

func main() {
	f := &flags{}

	app := &cli.Command{
		Name:    "realtime-service",
		Usage:   "Realtime messaging and notifications for the marketplace",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config file (optional)",
				Sources:     cli.EnvVars("CONFIG_PATH"),
				Value:       "config.yaml",
				Destination: &f.configPath,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return ctx, err
			}
			log, err := logger.New(logger.Config{
				Level:      cfg.Logger.Level,
				Format:     cfg.Logger.Format,
				OutputPath: cfg.Logger.OutputPath,
			})
			if err != nil {
				return ctx, err
			}
			f.cfg = cfg
			f.log = log
			return ctx, nil
		},
		After: func(context.Context, *cli.Command) error {
			if f.log != nil {
				_ = f.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP, websocket and gRPC servers",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "migrate",
						Usage:       "apply database migrations before serving",
						Sources:     cli.EnvVars("AUTO_MIGRATE"),
						Value:       true,
						Destination: &f.migrate,
					},
				},
				Action: func(ctx context.Context, _ *cli.Command) error {
					return serve(ctx, f.cfg, f.log, f.migrate)
				},
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations and exit",
				Action: func(ctx context.Context, _ *cli.Command) error {
					if f.cfg.Database.Driver != "postgres" {
						return fmt.Errorf("migrate needs the postgres driver, got %q", f.cfg.Database.Driver)
					}
					database, err := db.Connect(ctx, f.cfg.Database, f.log)
					if err != nil {
						return err
					}
					defer database.Close()
					return db.Migrate(ctx, database, f.log)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
