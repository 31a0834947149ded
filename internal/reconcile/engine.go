package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/forumsync/internal/dispatch"
	"github.com/forumsync/internal/forum"
	"github.com/forumsync/internal/model"
	"github.com/forumsync/internal/tags"
	"github.com/forumsync/internal/threads"
	"github.com/forumsync/internal/tracker"
)

// DefaultProgressEvery is how many processed items elapse between
// progress callback invocations.
const DefaultProgressEvery = 50

// Tracker is the slice of the external item-tracker API the engine uses.
type Tracker interface {
	CheckRepo(ctx context.Context, repo string) error
	ListIssues(ctx context.Context, repo string) ([]model.ExternalItem, error)
	ListPulls(ctx context.Context, repo string) ([]model.ExternalItem, error)
}

// Progress receives human-readable status lines during a run. Purely
// observational; a nil Progress is valid.
type Progress func(message string)

// Config holds the repositories and destination forums to reconcile.
type Config struct {
	Repos             []string
	IssuesForumID     string
	PRsForumID        string
	ArchivedScanLimit int
	ProgressEvery     int
}

// Engine repairs drift between the external tracker and the forum:
// missing threads are created, stale tags corrected, and threads whose
// external item no longer exists are deleted. Runs are idempotent: a
// second pass over unchanged input performs no edits.
type Engine struct {
	tracker Tracker
	client  forum.Client
	threads *threads.Resolver
	tags    *tags.Resolver
	cfg     Config

	// mu keeps runs sequential: per-repository processing must never
	// overlap, both within one run and across concurrent triggers,
	// to respect external API rate limits.
	mu sync.Mutex
}

// NewEngine creates a reconciliation engine.
func NewEngine(tr Tracker, client forum.Client, threadResolver *threads.Resolver, tagResolver *tags.Resolver, cfg Config) *Engine {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.ArchivedScanLimit <= 0 {
		cfg.ArchivedScanLimit = threads.DefaultArchivedScanLimit
	}
	return &Engine{
		tracker: tr,
		client:  client,
		threads: threadResolver,
		tags:    tagResolver,
		cfg:     cfg,
	}
}

// Run reconciles every configured repository in order. A repository that
// fails preflight is reported and skipped; the run continues with the
// next one. Cancellation is honored between repositories and between
// items, never mid-item.
func (e *Engine) Run(ctx context.Context, progress Progress) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, repo := range e.cfg.Repos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runRepo(ctx, repo, progress); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			report(progress, fmt.Sprintf("⚠️ Skipping %s: %v", repo, err))
		}
	}
	report(progress, "Reconciliation complete")
	return nil
}

// RunRepo reconciles a single repository.
func (e *Engine) RunRepo(ctx context.Context, repo string, progress Progress) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runRepo(ctx, repo, progress)
}

func (e *Engine) runRepo(ctx context.Context, repo string, progress Progress) error {
	if err := e.preflight(ctx, repo, progress); err != nil {
		return err
	}

	issuesOK := true
	issues, err := e.tracker.ListIssues(ctx, repo)
	if err != nil {
		issuesOK = false
		log.Printf("[ERROR] Failed to list issues for %s: %v", repo, err)
		report(progress, fmt.Sprintf("⚠️ Issue listing for %s failed: %v", repo, err))
	}
	pullsOK := true
	pulls, err := e.tracker.ListPulls(ctx, repo)
	if err != nil {
		pullsOK = false
		log.Printf("[ERROR] Failed to list pull requests for %s: %v", repo, err)
		report(progress, fmt.Sprintf("⚠️ Pull request listing for %s failed: %v", repo, err))
	}

	seenIssues := make(map[int]bool, len(issues))
	seenPulls := make(map[int]bool, len(pulls))
	processed := 0

	for _, item := range issues {
		if err := ctx.Err(); err != nil {
			return err
		}
		seenIssues[item.Number] = true
		e.reconcileItem(ctx, e.cfg.IssuesForumID, item)
		processed++
		e.reportProgress(progress, repo, processed)
	}
	for _, item := range pulls {
		if err := ctx.Err(); err != nil {
			return err
		}
		seenPulls[item.Number] = true
		e.reconcileItem(ctx, e.cfg.PRsForumID, item)
		processed++
		e.reportProgress(progress, repo, processed)
	}

	// Orphan cleanup needs the complete item set: with a partial fetch,
	// a live item's thread would look orphaned and be deleted. A shared
	// forum holds threads from both listings, so it requires both to have
	// succeeded before any deletion there.
	if e.cfg.IssuesForumID != "" && e.cfg.IssuesForumID == e.cfg.PRsForumID {
		if issuesOK && pullsOK {
			e.cleanOrphans(ctx, e.cfg.IssuesForumID, repo, union(seenIssues, seenPulls), progress)
		}
	} else {
		if issuesOK && e.cfg.IssuesForumID != "" {
			e.cleanOrphans(ctx, e.cfg.IssuesForumID, repo, seenIssues, progress)
		}
		if pullsOK && e.cfg.PRsForumID != "" {
			e.cleanOrphans(ctx, e.cfg.PRsForumID, repo, seenPulls, progress)
		}
	}

	report(progress, fmt.Sprintf("Reconciled %s: %d issues, %d pull requests", repo, len(issues), len(pulls)))
	return nil
}

// preflight verifies repository reachability and maps the failure modes
// to operator-actionable diagnostics.
func (e *Engine) preflight(ctx context.Context, repo string, progress Progress) error {
	err := e.tracker.CheckRepo(ctx, repo)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracker.ErrUnauthorized):
		report(progress, fmt.Sprintf("🔑 GitHub rejected the configured token while checking %s. Set a valid token with repo scope in the configuration.", repo))
	case errors.Is(err, tracker.ErrForbidden):
		report(progress, fmt.Sprintf("🚫 The configured token has no access to %s.", repo))
	case errors.Is(err, tracker.ErrNotFound):
		report(progress, fmt.Sprintf("❓ Repository %s was not found. It may be private, renamed, or deleted.", repo))
	}
	return err
}

// reconcileItem creates or repairs the thread for one fetched item.
// Failures are logged and the item is skipped; they never affect sibling
// items.
func (e *Engine) reconcileItem(ctx context.Context, forumID string, item model.ExternalItem) {
	if forumID == "" {
		return
	}

	desired := e.tags.DesiredFor(ctx, forumID, item)
	if repoTag, err := e.tags.Resolve(ctx, forumID, RepoTagName(item.Repo)); err != nil {
		log.Printf("[WARN] Skipping repository tag for %s#%d: %v", item.Repo, item.Number, err)
	} else {
		desired = append(desired, repoTag)
	}

	thread, created, err := e.threads.ResolveOrCreate(ctx, forumID, item.Repo, item.Number, item.Title, item.URL, desired, "")
	if err != nil {
		log.Printf("[ERROR] Skipping %s#%d this cycle: %v", item.Repo, item.Number, err)
		return
	}
	if created {
		if err := e.client.SendMessage(ctx, thread.ID, dispatch.CreatedMessage(item)); err != nil {
			log.Printf("[ERROR] Failed to announce backfilled thread %s: %v", thread.ID, err)
		}
		return
	}

	// Existing thread: one tag-replace edit when the name sets differ,
	// preserving non-status tags the forum side added.
	target := make([]forum.Tag, 0, len(thread.Tags)+len(desired))
	desiredNames := forum.TagNames(desired)
	for _, tag := range thread.Tags {
		if !tags.IsStatus(tag.Name) && !desiredNames[strings.ToLower(tag.Name)] {
			target = append(target, tag)
		}
	}
	target = append(target, desired...)

	if forum.SameTagNames(thread.Tags, target) {
		return
	}
	if err := e.client.EditThread(ctx, thread.ID, forum.ThreadEdit{Tags: target}); err != nil {
		log.Printf("[ERROR] Failed to update tags on thread %s for %s#%d: %v", thread.ID, item.Repo, item.Number, err)
	}
}

// cleanOrphans deletes threads that look like items of this repository
// but have no surviving external item. Deletion is best-effort.
func (e *Engine) cleanOrphans(ctx context.Context, forumID, repo string, seen map[int]bool, progress Progress) {
	candidates, err := e.client.ListActiveThreads(ctx, forumID)
	if err != nil {
		log.Printf("[ERROR] Orphan scan: failed to list active threads in %s: %v", forumID, err)
		return
	}
	archived, err := e.client.ListArchivedThreads(ctx, forumID, e.cfg.ArchivedScanLimit)
	if err != nil {
		log.Printf("[ERROR] Orphan scan: failed to list archived threads in %s: %v", forumID, err)
	} else {
		candidates = append(candidates, archived...)
	}

	repoTag := strings.ToLower(RepoTagName(repo))
	deleted := 0
	for _, thread := range candidates {
		if err := ctx.Err(); err != nil {
			return
		}
		number, ok := model.ThreadNumber(thread.Name)
		if !ok {
			continue
		}
		// The repository tag membership check keeps a shared forum from
		// having another repository's threads deleted.
		if !forum.TagNames(thread.Tags)[repoTag] {
			continue
		}
		if seen[number] {
			continue
		}
		if err := e.client.DeleteThread(ctx, thread.ID); err != nil {
			log.Printf("[WARN] Failed to delete orphaned thread %s (%s): %v", thread.ID, thread.Name, err)
			continue
		}
		e.threads.Invalidate(model.ThreadIdentity{ForumID: forumID, Repo: repo, Number: number})
		deleted++
		log.Printf("[INFO] Deleted orphaned thread %s (%s)", thread.ID, thread.Name)
	}
	if deleted > 0 {
		report(progress, fmt.Sprintf("Deleted %d orphaned thread(s) for %s", deleted, repo))
	}
}

func (e *Engine) reportProgress(progress Progress, repo string, processed int) {
	if processed%e.cfg.ProgressEvery == 0 {
		report(progress, fmt.Sprintf("Processed %d items in %s...", processed, repo))
	}
}

// RepoTagName returns the repository-identifying tag: the short name
// after the owner prefix.
func RepoTagName(repo string) string {
	return model.RepoShortName(repo)
}

func union(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool, len(a)+len(b))
	for n := range a {
		out[n] = true
	}
	for n := range b {
		out[n] = true
	}
	return out
}

func report(progress Progress, message string) {
	if progress != nil {
		progress(message)
	}
}
