package tags

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/forumsync/internal/forum"
	"github.com/forumsync/internal/model"
)

// Status tag vocabulary. A thread carries at most one of Open/Closed/Merged
// for the status dimension; Active is an orthogonal marker for issues with
// assignees but is still replaced as part of any status transition.
const (
	StatusOpen   = "Open"
	StatusClosed = "Closed"
	StatusMerged = "Merged"
	StatusActive = "Active"
)

var statusNames = map[string]bool{
	"open":   true,
	"closed": true,
	"merged": true,
	"active": true,
}

// IsStatus reports whether a tag name belongs to the status vocabulary.
// The comparison is case-insensitive.
func IsStatus(name string) bool {
	return statusNames[strings.ToLower(name)]
}

// Resolver finds or creates named tags on a forum and computes desired
// tag sets for external items.
type Resolver struct {
	client forum.Client
}

// NewResolver creates a tag resolver over the given forum client.
func NewResolver(client forum.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the forum tag with the given name, creating it when
// absent. Matching is case-insensitive.
func (r *Resolver) Resolve(ctx context.Context, forumID, name string) (forum.Tag, error) {
	available, err := r.client.ListAvailableTags(ctx, forumID)
	if err != nil {
		return forum.Tag{}, fmt.Errorf("failed to list tags for forum %s: %w", forumID, err)
	}
	for _, tag := range available {
		if strings.EqualFold(tag.Name, name) {
			return tag, nil
		}
	}
	tag, err := r.client.CreateTag(ctx, forumID, name)
	if err != nil {
		return forum.Tag{}, fmt.Errorf("failed to create tag %q in forum %s: %w", name, forumID, err)
	}
	return tag, nil
}

// DesiredFor computes the status tags an item should carry: Open, Closed,
// or Merged from its state, plus Active for issues with assignees. Tag
// resolution failures are logged and the tag is skipped; a missing status
// tag degrades the label, never the surrounding operation.
func (r *Resolver) DesiredFor(ctx context.Context, forumID string, item model.ExternalItem) []forum.Tag {
	var names []string
	switch {
	case item.Kind == model.KindPullRequest && item.Merged:
		names = append(names, StatusMerged)
	case item.State == "closed":
		names = append(names, StatusClosed)
	default:
		names = append(names, StatusOpen)
	}
	if item.Kind == model.KindIssue && len(item.Assignees) > 0 {
		names = append(names, StatusActive)
	}

	var tags []forum.Tag
	for _, name := range names {
		tag, err := r.Resolve(ctx, forumID, name)
		if err != nil {
			log.Printf("[WARN] Skipping tag %q for %s#%d: %v", name, item.Repo, item.Number, err)
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// ReplaceStatus swaps the thread's status tag for newStatus in a single
// edit, preserving every non-status tag (notably the repository tag).
// The read-modify-write is not atomic at the destination; a concurrent
// external tag edit can be lost and is repaired by the next
// reconciliation pass.
func (r *Resolver) ReplaceStatus(ctx context.Context, thread *forum.Thread, newStatus string) error {
	kept := make([]forum.Tag, 0, len(thread.Tags)+1)
	for _, tag := range thread.Tags {
		if !IsStatus(tag.Name) {
			kept = append(kept, tag)
		}
	}

	tag, err := r.Resolve(ctx, thread.ForumID, newStatus)
	if err != nil {
		// Degrade to "no status tag applied" rather than aborting the
		// caller's handler.
		log.Printf("[WARN] Could not resolve status tag %q for thread %s: %v", newStatus, thread.ID, err)
	} else {
		kept = append(kept, tag)
	}

	if err := r.client.EditThread(ctx, thread.ID, forum.ThreadEdit{Tags: kept}); err != nil {
		return fmt.Errorf("failed to update tags on thread %s: %w", thread.ID, err)
	}
	thread.Tags = kept
	return nil
}
