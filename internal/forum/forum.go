package forum

import (
	"context"
	"errors"
	"strings"
)

// Errors returned by forum clients. Callers branch on these to decide
// between invalidate-and-recreate (not found) and log-and-skip (forbidden).
var (
	ErrNotFound  = errors.New("forum: not found")
	ErrForbidden = errors.New("forum: forbidden")
)

// Tag is a named label scoped to a forum. Names are matched
// case-insensitively everywhere in this codebase.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Thread is a forum conversation thread representing one external item.
type Thread struct {
	ID       string `json:"id"`
	ForumID  string `json:"forum_id"`
	Name     string `json:"name"`
	Tags     []Tag  `json:"tags"`
	Archived bool   `json:"archived"`
}

// ThreadEdit describes a partial thread update. Nil fields are left
// unchanged.
type ThreadEdit struct {
	Name *string
	Tags []Tag // nil means unchanged; empty slice clears all tags
}

// Client is the destination forum abstraction. Message chunking and
// mention-safety are the implementation's responsibility.
type Client interface {
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	ListActiveThreads(ctx context.Context, forumID string) ([]*Thread, error)
	ListArchivedThreads(ctx context.Context, forumID string, limit int) ([]*Thread, error)
	CreateThread(ctx context.Context, forumID, name, content string, tags []Tag) (*Thread, error)
	EditThread(ctx context.Context, threadID string, edit ThreadEdit) error
	DeleteThread(ctx context.Context, threadID string) error
	ListAvailableTags(ctx context.Context, forumID string) ([]Tag, error)
	CreateTag(ctx context.Context, forumID, name string) (Tag, error)
	SendMessage(ctx context.Context, threadID, text string) error

	// SendChannelMessage posts to a plain (non-forum) channel, used for
	// feed announcements and operator error notifications.
	SendChannelMessage(ctx context.Context, channelID, text string) error
}

// TagNames returns the lowercased name set of a tag list.
func TagNames(tags []Tag) map[string]bool {
	names := make(map[string]bool, len(tags))
	for _, t := range tags {
		names[strings.ToLower(t.Name)] = true
	}
	return names
}

// SameTagNames compares two tag lists by case-insensitive name set.
func SameTagNames(a, b []Tag) bool {
	an, bn := TagNames(a), TagNames(b)
	if len(an) != len(bn) {
		return false
	}
	for name := range an {
		if !bn[name] {
			return false
		}
	}
	return true
}
