package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		ListenAddr    string `koanf:"listen_addr"`
		WebhookPath   string `koanf:"webhook_path"`
		WebhookSecret string `koanf:"webhook_secret"`
	} `koanf:"server"`

	GitHub struct {
		Token        string   `koanf:"token"`
		APIURL       string   `koanf:"api_url"`
		AllowedRepos []string `koanf:"allowed_repos"`
	} `koanf:"github"`

	Forums struct {
		IssuesForumID       string `koanf:"issues_forum_id"`
		PRsForumID          string `koanf:"prs_forum_id"`
		IssuesFeedChannelID string `koanf:"issues_feed_channel_id"`
		PRsFeedChannelID    string `koanf:"prs_feed_channel_id"`
		LogChannelID        string `koanf:"log_channel_id"`
	} `koanf:"forums"`

	Sync struct {
		ArchivedScanLimit   int    `koanf:"archived_scan_limit"`
		RecreateArchived    bool   `koanf:"recreate_archived"`
		ReconcileInterval   string `koanf:"reconcile_interval"`
		ReviewDebounce      string `koanf:"review_debounce"`
		TrackerPageInterval string `koanf:"tracker_page_interval"`
	} `koanf:"sync"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.listen_addr":         ":8080",
		"server.webhook_path":        "/webhook",
		"github.api_url":             "https://api.github.com",
		"sync.archived_scan_limit":   200,
		"sync.reconcile_interval":    "0s",
		"sync.review_debounce":       "2s",
		"sync.tracker_page_interval": "1s",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./fsdata/forumsync.toml", "./forumsync.toml", "$HOME/.forumsync.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix FORUMSYNC_. A double
	// underscore separates sections, so FORUMSYNC_SERVER__LISTEN_ADDR
	// maps to server.listen_addr.
	k.Load(env.Provider("FORUMSYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FORUMSYNC_")), "__", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# ForumSync Configuration

[server]
listen_addr = ":8080"
webhook_path = "/webhook"
webhook_secret = "your-webhook-secret"

[github]
token = "your-github-token"
api_url = "https://api.github.com"
allowed_repos = ["your-org/your-repo"]

[forums]
issues_forum_id = "issues-forum-channel-id"
prs_forum_id = "prs-forum-channel-id"
issues_feed_channel_id = ""
prs_feed_channel_id = ""
log_channel_id = ""

[sync]
archived_scan_limit = 200
recreate_archived = false
reconcile_interval = "0s"
review_debounce = "2s"
tracker_page_interval = "1s"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Server.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}

	if config.Forums.IssuesForumID == "" && config.Forums.PRsForumID == "" {
		return fmt.Errorf("at least one of issues_forum_id or prs_forum_id is required")
	}

	if len(config.GitHub.AllowedRepos) == 0 {
		return fmt.Errorf("at least one allowed repository is required")
	}
	for _, repo := range config.GitHub.AllowedRepos {
		if !strings.Contains(repo, "/") {
			return fmt.Errorf("allowed repository %q must be in owner/name form", repo)
		}
	}

	if _, err := config.ReviewDebounce(); err != nil {
		return err
	}
	if _, err := config.ReconcileInterval(); err != nil {
		return err
	}
	if _, err := config.TrackerPageInterval(); err != nil {
		return err
	}

	return nil
}

// ReviewDebounce returns the parsed review debounce window.
func (c *Config) ReviewDebounce() (time.Duration, error) {
	return parseDuration("review_debounce", c.Sync.ReviewDebounce)
}

// ReconcileInterval returns the parsed periodic reconciliation interval.
// Zero disables the ticker.
func (c *Config) ReconcileInterval() (time.Duration, error) {
	return parseDuration("reconcile_interval", c.Sync.ReconcileInterval)
}

// TrackerPageInterval returns the parsed delay between paginated GitHub
// API requests.
func (c *Config) TrackerPageInterval() (time.Duration, error) {
	return parseDuration("tracker_page_interval", c.Sync.TrackerPageInterval)
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration %q: %w", name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}
