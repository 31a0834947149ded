package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/forumsync/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "forumsync.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("listen_addr:         %s\n", cfg.Server.ListenAddr)
	fmt.Printf("webhook_path:        %s\n", cfg.Server.WebhookPath)
	fmt.Printf("webhook_secret:      %s\n", redact(cfg.Server.WebhookSecret))
	fmt.Printf("github_api_url:      %s\n", cfg.GitHub.APIURL)
	fmt.Printf("github_token:        %s\n", redact(cfg.GitHub.Token))
	fmt.Printf("allowed_repos:       %s\n", strings.Join(cfg.GitHub.AllowedRepos, ", "))
	fmt.Printf("issues_forum_id:     %s\n", cfg.Forums.IssuesForumID)
	fmt.Printf("prs_forum_id:        %s\n", cfg.Forums.PRsForumID)
	fmt.Printf("archived_scan_limit: %d\n", cfg.Sync.ArchivedScanLimit)
	fmt.Printf("recreate_archived:   %t\n", cfg.Sync.RecreateArchived)
	fmt.Printf("reconcile_interval:  %s\n", cfg.Sync.ReconcileInterval)
	fmt.Printf("review_debounce:     %s\n", cfg.Sync.ReviewDebounce)
	fmt.Printf("tracker_page_interval: %s\n", cfg.Sync.TrackerPageInterval)
	return nil
}

// redact keeps a short prefix so operators can tell which credential is
// loaded without exposing it.
func redact(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "..."
}

func runConfigValidate(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}
