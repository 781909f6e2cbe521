package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/infra/database"
	"github.com/marketplace/delivery-service/internal/adapter/store"
	"github.com/marketplace/delivery-service/internal/domain/model"
)

const ServiceName = "delivery-service"

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Notification fan-out and sync job coordinator for the marketplace",
		Version: fmt.Sprintf("%s (commit %s, branch %s, built %s)", version, commit, branch, buildStamp()),
		Commands: []*cli.Command{
			serverCmd(),
			cursorCmd(),
		},
	}

	return app.Run(os.Args)
}

func buildStamp() string {
	if buildTimestamp != "" {
		return buildTimestamp
	}
	return commitDate
}

var configFileFlag = &cli.StringFlag{
	Name:    "config_file",
	Usage:   "Path to the configuration file",
	EnvVars: []string{"DELIVERY_CONFIG_FILE"},
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the delivery service",
		ArgsUsage: "[-- --key=value ...]",
		Flags:     []cli.Flag{configFileFlag},
		Action: func(c *cli.Context) error {
			cfg, loader, err := loadConfig(c)
			if err != nil {
				return err
			}
			model.ServerVersion = version
			cfg.Service.Version = version

			app := NewApp(cfg, loader)

			startCtx, cancel := context.WithTimeout(c.Context, app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancelStop()
			return app.Stop(stopCtx)
		},
	}
}

// loadConfig reads the config file and applies `--key=value` overrides passed
// after the command's own flags.
func loadConfig(c *cli.Context) (*config.Config, *config.Loader, error) {
	cfg, loader, err := config.LoadConfig(c.String(configFileFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	if c.Args().Len() == 0 {
		return cfg, loader, nil
	}

	fs := overrideFlags()
	if err := fs.Parse(c.Args().Slice()); err != nil {
		return nil, nil, fmt.Errorf("overrides: %w", err)
	}
	if err := loader.BindFlags(fs); err != nil {
		return nil, nil, fmt.Errorf("overrides: %w", err)
	}
	cfg, err = loader.Reload()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

func overrideFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	fs.String("http.addr", "", "HTTP listen address")
	fs.String("log.level", "", "Log level (debug, info, warn, error)")
	fs.String("cursor.backend", "", "Cursor store backend (memory, postgres, redis)")
	fs.String("source.backend", "", "Event source backend (memory, postgres)")
	fs.Int("pusher.workers", 0, "Number of pusher workers")
	fs.String("job.schedule", "", "Cron schedule of the sync job")
	fs.Bool("job.enabled", true, "Run the scheduled sync job")
	return fs
}

func cursorCmd() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Inspect or move the persisted reader cursor",
		Flags: []cli.Flag{configFileFlag},
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Print the persisted cursor",
				Action: func(c *cli.Context) error {
					return withCursor(c, func(ctx context.Context, cur store.CursorStore) error {
						v, ok, err := cur.Get(ctx)
						if err != nil {
							return err
						}
						if !ok {
							fmt.Fprintln(c.App.Writer, "unset")
							return nil
						}
						fmt.Fprintln(c.App.Writer, v)
						return nil
					})
				},
			},
			{
				Name:  "set",
				Usage: "Advance the persisted cursor; lower values are ignored",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "value", Required: true, Usage: "New cursor value"},
				},
				Action: func(c *cli.Context) error {
					return withCursor(c, func(ctx context.Context, cur store.CursorStore) error {
						if err := cur.Set(ctx, c.Int64("value")); err != nil {
							return err
						}
						v, _, err := cur.Get(ctx)
						if err != nil {
							return err
						}
						fmt.Fprintln(c.App.Writer, v)
						return nil
					})
				},
			},
		},
	}
}

func withCursor(c *cli.Context, fn func(ctx context.Context, cur store.CursorStore) error) error {
	// Looked up through the lineage: the flag is declared on the parent command.
	cfg, _, err := config.LoadConfig(c.String(configFileFlag.Name))
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(cfg.Log.Level)}))
	db := database.NewProvider(cfg, logger)
	defer db.Close()

	cur, err := store.NewCursorStore(cfg, db, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	return fn(ctx, cur)
}
