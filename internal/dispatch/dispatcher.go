package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/forumsync/internal/forum"
	"github.com/forumsync/internal/model"
	"github.com/forumsync/internal/review"
	"github.com/forumsync/internal/tags"
	"github.com/forumsync/internal/threads"
)

// Config holds the destination wiring for the dispatcher. Feed and log
// channels are optional; empty ids disable them.
type Config struct {
	IssuesForumID       string
	PRsForumID          string
	IssuesFeedChannelID string
	PRsFeedChannelID    string
	LogChannelID        string
	ReviewDelay         time.Duration
}

// Dispatcher routes validated inbound events to per-event-type handlers.
// Handling is serialized per (repository, item number) so a single item's
// event stream executes in arrival order; independent items proceed
// concurrently.
type Dispatcher struct {
	client    forum.Client
	threads   *threads.Resolver
	tags      *tags.Resolver
	cfg       Config
	coalescer *review.Coalescer

	mu        sync.Mutex
	itemLocks map[itemKey]*sync.Mutex
}

type itemKey struct {
	repo   string
	number int
}

// New creates a dispatcher. The review coalescer flushes back into this
// dispatcher after the debounce window.
func New(client forum.Client, threadResolver *threads.Resolver, tagResolver *tags.Resolver, cfg Config) *Dispatcher {
	d := &Dispatcher{
		client:    client,
		threads:   threadResolver,
		tags:      tagResolver,
		cfg:       cfg,
		itemLocks: make(map[itemKey]*sync.Mutex),
	}
	d.coalescer = review.NewCoalescer(d, cfg.ReviewDelay)
	return d
}

// Coalescer exposes the review coalescer, mainly for shutdown.
func (d *Dispatcher) Coalescer() *review.Coalescer {
	return d.coalescer
}

// Handle processes one inbound event. Malformed payloads are logged and
// dropped; they never propagate past this boundary. A returned error
// means a handler failed and the caller should report a generic failure.
func (d *Dispatcher) Handle(ctx context.Context, ev model.Event) error {
	switch ev.Type {
	case model.EventIssues:
		var payload issueEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Issue.Number == 0 {
			return d.dropMalformed(ev, err)
		}
		return d.handleItemEvent(ctx, payload.Issue.toItem(ev.Repo, model.KindIssue), payload.Action, assigneeLogin(payload.Assignee))

	case model.EventPullRequest:
		var payload pullRequestEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.PullRequest.Number == 0 {
			return d.dropMalformed(ev, err)
		}
		return d.handleItemEvent(ctx, payload.PullRequest.toItem(ev.Repo, model.KindPullRequest), payload.Action, assigneeLogin(payload.Assignee))

	case model.EventIssueComment:
		var payload issueCommentEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Issue.Number == 0 {
			return d.dropMalformed(ev, err)
		}
		// The issues endpoint carries PR comments too, but both land in
		// the thread for the numbered item, so the issue ref is enough.
		item := payload.Issue.toItem(ev.Repo, model.KindIssue)
		return d.handleComment(ctx, item, payload.Comment.User.Login, payload.Comment.HTMLURL, payload.Comment.Body)

	case model.EventPullRequestReview:
		var payload reviewEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.PullRequest.Number == 0 {
			return d.dropMalformed(ev, err)
		}
		if payload.Action != "submitted" {
			return nil
		}
		key := review.Key{Repo: ev.Repo, Number: payload.PullRequest.Number, ReviewID: payload.Review.ID}
		d.coalescer.AddReview(key, payload.Review.User.Login, payload.Review.HTMLURL,
			payload.Review.Body, payload.PullRequest.Title, payload.PullRequest.HTMLURL)
		return nil

	case model.EventPullRequestReviewComment:
		var payload reviewCommentEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.PullRequest.Number == 0 {
			return d.dropMalformed(ev, err)
		}
		if payload.Comment.Body == "" {
			return nil
		}
		key := review.Key{Repo: ev.Repo, Number: payload.PullRequest.Number, ReviewID: payload.Comment.PullRequestReviewID}
		d.coalescer.AddComment(key, payload.Comment.User.Login, payload.Comment.HTMLURL,
			payload.Comment.Body, payload.Comment.HTMLURL, payload.PullRequest.Title, payload.PullRequest.HTMLURL)
		return nil

	default:
		log.Printf("[INFO] Ignoring unsupported event type %q for %s", ev.Type, ev.Repo)
		return nil
	}
}

func (d *Dispatcher) dropMalformed(ev model.Event, err error) error {
	log.Printf("[WARN] Dropping malformed %s event for %s (delivery %s): %v", ev.Type, ev.Repo, ev.DeliveryID, err)
	return nil
}

func assigneeLogin(u *userRef) string {
	if u == nil {
		return ""
	}
	return u.Login
}

// handleItemEvent covers the issue and pull_request lifecycle actions.
func (d *Dispatcher) handleItemEvent(ctx context.Context, item model.ExternalItem, action, assignee string) error {
	forumID := d.forumFor(item.Kind)
	if forumID == "" {
		log.Printf("[INFO] No forum configured for %s events, skipping %s#%d", item.Kind, item.Repo, item.Number)
		return nil
	}

	unlock := d.lockItem(item.Repo, item.Number)
	defer unlock()

	desired := d.tags.DesiredFor(ctx, forumID, item)

	initialContent := ""
	if action == "opened" {
		initialContent = CreatedMessage(item)
	}
	thread, created, err := d.threads.ResolveOrCreate(ctx, forumID, item.Repo, item.Number, item.Title, item.URL, desired, initialContent)
	if err != nil {
		return fmt.Errorf("failed to resolve thread for %s#%d: %w", item.Repo, item.Number, err)
	}

	switch action {
	case "opened":
		// The creation itself carried the announcement as initial
		// content; only a pre-existing thread needs the notice.
		if !created {
			d.send(ctx, forumID, item, thread, CreatedMessage(item))
		}
	case "closed":
		if item.Kind == model.KindPullRequest && item.Merged {
			d.replaceStatus(ctx, thread, tags.StatusMerged)
			d.send(ctx, forumID, item, thread, mergedMessage(item))
		} else {
			d.replaceStatus(ctx, thread, tags.StatusClosed)
			d.send(ctx, forumID, item, thread, closedMessage(item))
		}
	case "reopened":
		d.replaceStatus(ctx, thread, tags.StatusOpen)
		d.send(ctx, forumID, item, thread, reopenedMessage(item))
	case "assigned", "unassigned":
		if assignee != "" {
			d.send(ctx, forumID, item, thread, assignmentMessage(item, action, assignee))
		}
	}

	d.announce(ctx, item, action)
	return nil
}

// handleComment forwards an issue or PR conversation comment into the
// item's thread, creating the thread if the comment arrived before (or
// without) an "opened" event. Empty bodies are dropped silently.
func (d *Dispatcher) handleComment(ctx context.Context, item model.ExternalItem, author, url, body string) error {
	if body == "" {
		return nil
	}
	forumID := d.forumFor(item.Kind)
	if forumID == "" {
		return nil
	}

	unlock := d.lockItem(item.Repo, item.Number)
	defer unlock()

	desired := d.tags.DesiredFor(ctx, forumID, item)
	thread, _, err := d.threads.ResolveOrCreate(ctx, forumID, item.Repo, item.Number, item.Title, item.URL, desired, "")
	if err != nil {
		return fmt.Errorf("failed to resolve thread for comment on %s#%d: %w", item.Repo, item.Number, err)
	}
	d.send(ctx, forumID, item, thread, commentPrefix(author, url)+body)
	return nil
}

// FlushReview delivers a coalesced review: one submitted message when a
// body arrived, then the inline comments in chronological order. An
// unresolvable thread drops the flush with a warning.
func (d *Dispatcher) FlushReview(ctx context.Context, flush review.Flush) {
	forumID := d.cfg.PRsForumID
	if forumID == "" {
		return
	}

	unlock := d.lockItem(flush.Key.Repo, flush.Key.Number)
	defer unlock()

	item := model.ExternalItem{
		Repo:   flush.Key.Repo,
		Number: flush.Key.Number,
		Kind:   model.KindPullRequest,
		Title:  flush.Title,
		URL:    flush.ItemURL,
		State:  "open",
	}
	desired := d.tags.DesiredFor(ctx, forumID, item)
	thread, _, err := d.threads.ResolveOrCreate(ctx, forumID, item.Repo, item.Number, item.Title, item.URL, desired, "")
	if err != nil {
		log.Printf("[WARN] Dropping coalesced review %d for %s#%d: thread unresolvable: %v",
			flush.Key.ReviewID, flush.Key.Repo, flush.Key.Number, err)
		return
	}

	if flush.HasBody && flush.Body != "" {
		d.send(ctx, forumID, item, thread, reviewPrefix(flush.Author, flush.URL)+flush.Body)
	}
	for _, comment := range flush.Comments {
		if comment.Body == "" {
			continue
		}
		d.send(ctx, forumID, item, thread, reviewCommentPrefix(flush.Author, comment.URL)+comment.Body)
	}
}

// NotifyError posts an operator-visible error notification to the log
// channel, when one is configured.
func (d *Dispatcher) NotifyError(ctx context.Context, text string) {
	if d.cfg.LogChannelID == "" {
		return
	}
	if err := d.client.SendChannelMessage(ctx, d.cfg.LogChannelID, text); err != nil {
		log.Printf("[ERROR] Failed to post to log channel: %v", err)
	}
}

func (d *Dispatcher) forumFor(kind model.ItemKind) string {
	if kind == model.KindPullRequest {
		return d.cfg.PRsForumID
	}
	return d.cfg.IssuesForumID
}

// send posts to a thread, invalidating the cache entry when the thread
// vanished so the next event recreates it. Send failures are logged,
// never escalated.
func (d *Dispatcher) send(ctx context.Context, forumID string, item model.ExternalItem, thread *forum.Thread, text string) {
	if err := d.client.SendMessage(ctx, thread.ID, text); err != nil {
		if errors.Is(err, forum.ErrNotFound) {
			d.threads.Invalidate(item.Identity(forumID))
		}
		log.Printf("[ERROR] Failed to send message to thread %s for %s#%d: %v", thread.ID, item.Repo, item.Number, err)
	}
}

// announce mirrors lifecycle transitions into the optional feed channel.
func (d *Dispatcher) announce(ctx context.Context, item model.ExternalItem, action string) {
	channelID := d.cfg.IssuesFeedChannelID
	if item.Kind == model.KindPullRequest {
		channelID = d.cfg.PRsFeedChannelID
	}
	if channelID == "" {
		return
	}
	text := feedMessage(item, action)
	if text == "" {
		return
	}
	if err := d.client.SendChannelMessage(ctx, channelID, text); err != nil {
		log.Printf("[ERROR] Failed to post feed announcement for %s#%d: %v", item.Repo, item.Number, err)
	}
}

// replaceStatus applies a status tag transition, degrading to a log line
// on failure.
func (d *Dispatcher) replaceStatus(ctx context.Context, thread *forum.Thread, status string) {
	if err := d.tags.ReplaceStatus(ctx, thread, status); err != nil {
		log.Printf("[ERROR] Failed to replace status tag on thread %s: %v", thread.ID, err)
	}
}

// lockItem serializes handling for one (repository, number) identity.
func (d *Dispatcher) lockItem(repo string, number int) func() {
	key := itemKey{repo: repo, number: number}
	d.mu.Lock()
	km, ok := d.itemLocks[key]
	if !ok {
		km = &sync.Mutex{}
		d.itemLocks[key] = km
	}
	d.mu.Unlock()
	km.Lock()
	return km.Unlock
}
