package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/forumsync/internal/cache"
	"github.com/forumsync/internal/config"
	"github.com/forumsync/internal/dispatch"
	"github.com/forumsync/internal/forum"
	"github.com/forumsync/internal/model"
	"github.com/forumsync/internal/reconcile"
	"github.com/forumsync/internal/tags"
	"github.com/forumsync/internal/threads"
	"github.com/forumsync/internal/tracker"
)

// app bundles the wired components the commands share.
type app struct {
	cfg        *config.Config
	client     forum.Client
	dispatcher *dispatch.Dispatcher
	engine     *reconcile.Engine
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildApp wires the service graph from the validated configuration.
// The forum backend is the in-process one; a chat platform client slots
// in behind forum.Client without touching anything downstream.
func buildApp(cfg *config.Config) (*app, error) {
	reviewDelay, err := cfg.ReviewDebounce()
	if err != nil {
		return nil, err
	}
	pageInterval, err := cfg.TrackerPageInterval()
	if err != nil {
		return nil, err
	}

	client := forum.NewMemory()

	threadCache := cache.New()
	threadResolver := threads.NewResolver(client, threadCache)
	threadResolver.ArchivedScanLimit = cfg.Sync.ArchivedScanLimit
	threadResolver.RecreateArchived = cfg.Sync.RecreateArchived
	for _, repo := range cfg.GitHub.AllowedRepos {
		threadResolver.KnownRepoTags = append(threadResolver.KnownRepoTags, model.RepoShortName(repo))
	}
	tagResolver := tags.NewResolver(client)

	dispatcher := dispatch.New(client, threadResolver, tagResolver, dispatch.Config{
		IssuesForumID:       cfg.Forums.IssuesForumID,
		PRsForumID:          cfg.Forums.PRsForumID,
		IssuesFeedChannelID: cfg.Forums.IssuesFeedChannelID,
		PRsFeedChannelID:    cfg.Forums.PRsFeedChannelID,
		LogChannelID:        cfg.Forums.LogChannelID,
		ReviewDelay:         reviewDelay,
	})

	trackerClient := tracker.NewClient(cfg.GitHub.APIURL, cfg.GitHub.Token)
	trackerClient.SetPageInterval(pageInterval)

	engine := reconcile.NewEngine(trackerClient, client, threadResolver, tagResolver, reconcile.Config{
		Repos:             cfg.GitHub.AllowedRepos,
		IssuesForumID:     cfg.Forums.IssuesForumID,
		PRsForumID:        cfg.Forums.PRsForumID,
		ArchivedScanLimit: cfg.Sync.ArchivedScanLimit,
	})

	return &app{
		cfg:        cfg,
		client:     client,
		dispatcher: dispatcher,
		engine:     engine,
	}, nil
}
