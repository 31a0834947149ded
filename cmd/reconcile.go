package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// ReconcileCommand returns the CLI command for a one-shot reconciliation
func ReconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Run a full reconciliation pass and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Reconcile only this repository (owner/name)",
			},
		},
		Action: runReconcile,
	}
}

func runReconcile(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.dispatcher.Coalescer().Stop()

	progress := func(message string) {
		fmt.Println(message)
	}

	if repo := c.String("repo"); repo != "" {
		return application.engine.RunRepo(c.Context, repo, progress)
	}
	return application.engine.Run(c.Context, progress)
}
