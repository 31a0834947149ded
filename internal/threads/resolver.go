package threads

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/forumsync/internal/cache"
	"github.com/forumsync/internal/forum"
	"github.com/forumsync/internal/model"
)

// DefaultArchivedScanLimit bounds how many archived threads a resolution
// scans when the cache and the active list both miss.
const DefaultArchivedScanLimit = 200

// Resolver maps external item identities to forum threads, creating them
// when absent. Resolution per identity is serialized through the cache's
// per-key lock, so concurrent callers for the same item converge on one
// thread.
type Resolver struct {
	client forum.Client
	cache  *cache.Cache

	// ArchivedScanLimit bounds the archived-thread scan (step 3).
	ArchivedScanLimit int

	// RecreateArchived controls the archived-match policy: when true, an
	// archived thread matching the identity is treated as not-found and a
	// fresh active thread is created, keeping reconciled threads
	// unarchived. When false the archived thread is returned as-is.
	RecreateArchived bool

	// KnownRepoTags lists the short names of every tracked repository.
	// The name scan matches by item number, which is only unique within
	// one repository; when two repositories share a forum, a candidate
	// bearing another known repository's tag is skipped so repo B's #5
	// never adopts repo A's thread.
	KnownRepoTags []string
}

// NewResolver creates a thread resolver backed by the given cache.
func NewResolver(client forum.Client, c *cache.Cache) *Resolver {
	return &Resolver{
		client:            client,
		cache:             c,
		ArchivedScanLimit: DefaultArchivedScanLimit,
	}
}

// ResolveOrCreate returns the thread for an item identity, creating one
// when no live thread exists. Resolution order: cache (with liveness
// validation), active thread scan, bounded archived scan, create.
//
// created is true only when this call created the thread; callers use it
// to suppress a duplicate "created" notice. initialContent defaults to a
// plain item link when empty. Creation failures are returned as errors;
// the caller treats them as "skip this item".
func (r *Resolver) ResolveOrCreate(ctx context.Context, forumID, repo string, number int, title, url string, tags []forum.Tag, initialContent string) (*forum.Thread, bool, error) {
	key := model.ThreadIdentity{ForumID: forumID, Repo: repo, Number: number}
	unlock := r.cache.Lock(key)
	defer unlock()

	if thread := r.fromCache(ctx, key); thread != nil {
		return thread, false, nil
	}

	if thread, err := r.scan(ctx, key); err != nil {
		return nil, false, err
	} else if thread != nil {
		return thread, false, nil
	}

	if initialContent == "" {
		initialContent = fmt.Sprintf("[#%d](%s)", number, url)
	}
	name := model.ThreadName(number, title)
	thread, err := r.client.CreateThread(ctx, forumID, name, initialContent, tags)
	if err != nil {
		log.Printf("[ERROR] Failed to create thread for %s#%d in forum %s: %v", repo, number, forumID, err)
		return nil, false, fmt.Errorf("failed to create thread for %s#%d: %w", repo, number, err)
	}
	r.remember(key, thread)
	return thread, true, nil
}

// fromCache returns the cached thread for a key after validating it is
// still addressable. Stale entries (deleted threads, or archived ones
// under the recreate policy) are invalidated so resolution falls through.
func (r *Resolver) fromCache(ctx context.Context, key model.ThreadIdentity) *forum.Thread {
	rec, ok := r.cache.Get(key)
	if !ok {
		return nil
	}
	thread, err := r.client.GetThread(ctx, rec.ThreadID)
	if err != nil {
		if !errors.Is(err, forum.ErrNotFound) {
			log.Printf("[WARN] Liveness check failed for cached thread %s: %v", rec.ThreadID, err)
		}
		r.cache.Invalidate(key)
		return nil
	}
	if thread.Archived && r.RecreateArchived {
		r.cache.Invalidate(key)
		return nil
	}
	return thread
}

// scan searches active then archived threads for the identity's name
// marker. Returns nil when nothing matched (or an archived match is
// excluded by policy).
func (r *Resolver) scan(ctx context.Context, key model.ThreadIdentity) (*forum.Thread, error) {
	active, err := r.client.ListActiveThreads(ctx, key.ForumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active threads in forum %s: %w", key.ForumID, err)
	}
	for _, thread := range active {
		if model.NameMatches(thread.Name, key.Number) && !r.taggedForOtherRepo(thread, key.Repo) {
			r.remember(key, thread)
			return thread, nil
		}
	}

	limit := r.ArchivedScanLimit
	if limit <= 0 {
		limit = DefaultArchivedScanLimit
	}
	archived, err := r.client.ListArchivedThreads(ctx, key.ForumID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived threads in forum %s: %w", key.ForumID, err)
	}
	for _, thread := range archived {
		if !model.NameMatches(thread.Name, key.Number) || r.taggedForOtherRepo(thread, key.Repo) {
			continue
		}
		if r.RecreateArchived {
			// Archived matches are treated as not-found so the item gets
			// a fresh active thread.
			return nil, nil
		}
		r.remember(key, thread)
		return thread, nil
	}
	return nil, nil
}

// taggedForOtherRepo reports whether a candidate thread carries the repo
// tag of a tracked repository other than the one being resolved.
func (r *Resolver) taggedForOtherRepo(thread *forum.Thread, repo string) bool {
	if len(r.KnownRepoTags) == 0 {
		return false
	}
	own := strings.ToLower(model.RepoShortName(repo))
	names := forum.TagNames(thread.Tags)
	for _, known := range r.KnownRepoTags {
		if k := strings.ToLower(known); k != own && names[k] {
			return true
		}
	}
	return false
}

func (r *Resolver) remember(key model.ThreadIdentity, thread *forum.Thread) {
	names := make([]string, 0, len(thread.Tags))
	for _, tag := range thread.Tags {
		names = append(names, tag.Name)
	}
	r.cache.Put(key, cache.Record{ThreadID: thread.ID, Name: thread.Name, TagNames: names})
}

// Invalidate drops the cached handle for an identity. Callers use this
// when an operation on the thread reported not-found.
func (r *Resolver) Invalidate(key model.ThreadIdentity) {
	r.cache.Invalidate(key)
}
