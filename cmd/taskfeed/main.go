package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"taskfeed/internal/app"
	"taskfeed/internal/cli"
	"taskfeed/internal/config"
	appLog "taskfeed/internal/log"
)

var CLI struct {
	Version  kong.VersionFlag
	Config   string `help:"Config file path." type:"path" default:"~/.config/taskfeed/config.yaml" env:"TASKFEED_CONFIG"`
	LogLevel string `help:"Log level (debug, info, warn, error); overrides the config file."`

	Serve  cli.ServeCmd  `cmd:"" help:"Run the HTTP API." default:"1"`
	Sync   cli.SyncCmd   `cmd:"" help:"Reconcile feed events into tasks."`
	Status cli.StatusCmd `cmd:"" help:"Show feed integration status."`
	Events cli.EventsCmd `cmd:"" help:"List cached events of a feed."`
	Verify cli.VerifyCmd `cmd:"" help:"Fetch and fully parse a feed."`
	Export cli.ExportCmd `cmd:"" help:"Write synced tasks as an ICS calendar to stdout."`

	Secret struct {
		Set    cli.SecretSetCmd    `cmd:"" help:"Store a secret in the OS keyring."`
		Delete cli.SecretDeleteCmd `cmd:"" help:"Remove a secret from the OS keyring."`
	} `cmd:"" help:"Manage keyring secrets referenced as keyring:NAME in the config."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("taskfeed"),
		kong.Description("ICS shift/calendar feed ingestion and task reconciliation"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	if err := run(kctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(kctx *kong.Context) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets are managed before the config is loaded, since the config may
	// reference the very entry being set.
	if strings.HasPrefix(kctx.Command(), "secret ") {
		return kctx.Run(&cli.Context{Ctx: ctx, In: os.Stdin, Out: os.Stdout})
	}

	conf, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load config %s: %w", CLI.Config, err)
	}

	level := conf.Log.Level
	if CLI.LogLevel != "" {
		level = CLI.LogLevel
	}
	appLog.Init(appLog.Options{
		Level: level,
		File:  conf.Log.File,
		JSON:  conf.Log.JSON,
	})

	appLog.Info("effective config",
		"config_path", CLI.Config,
		"listen", conf.Listen,
		"shift_configured", conf.Feeds.Shift.URL != "",
		"calendar_configured", conf.Feeds.Calendar.URL != "",
		"feed_ttl", conf.FeedTTL.String(),
		"status_ttl", conf.StatusTTL.String(),
		"store", conf.Store.Driver,
		"sync_cron", conf.SyncCron,
	)

	coll, closeStore, err := app.OpenStore(conf.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			appLog.Error("failed to close task store", err)
		}
	}()

	return kctx.Run(&cli.Context{
		Ctx:    ctx,
		Config: conf,
		App:    app.New(conf, coll, app.Options{}),
		In:     os.Stdin,
		Out:    os.Stdout,
	})
}
