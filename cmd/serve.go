package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/forumsync/internal/api"
)

// ServeCommand returns the CLI command for starting the webhook listener
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the webhook listener",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Listen address, overriding the configuration",
				EnvVars: []string{"FORUMSYNC_LISTEN"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.dispatcher.Coalescer().Stop()

	listen := cfg.Server.ListenAddr
	if c.String("listen") != "" {
		listen = c.String("listen")
	}

	interval, err := cfg.ReconcileInterval()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if interval > 0 {
		go runReconcileTicker(ctx, application, interval)
	}

	fmt.Printf("Starting forumsync webhook listener on %s...\n", listen)

	server := api.NewServer(api.Config{
		ListenAddr:    listen,
		WebhookPath:   cfg.Server.WebhookPath,
		WebhookSecret: cfg.Server.WebhookSecret,
		AllowedRepos:  cfg.GitHub.AllowedRepos,
	}, application.dispatcher, application.engine)
	return server.Start()
}

// runReconcileTicker runs periodic reconciliation passes until the
// context is cancelled. A pass skipped because one is still running is
// not an error; the engine serializes runs internally.
func runReconcileTicker(ctx context.Context, application *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress := func(message string) {
				log.Info().Str("component", "reconcile").Msg(message)
			}
			if err := application.engine.Run(ctx, progress); err != nil {
				log.Error().Err(err).Msg("Periodic reconciliation failed")
			}
		}
	}
}
