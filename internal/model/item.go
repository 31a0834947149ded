package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ItemKind distinguishes the two kinds of external items we track.
type ItemKind string

const (
	KindIssue       ItemKind = "issue"
	KindPullRequest ItemKind = "pull_request"
)

// ExternalItem is an immutable snapshot of a GitHub issue or pull request
// as seen in a single webhook event or API fetch.
type ExternalItem struct {
	Repo      string // full name, e.g. "owner/repo"
	Number    int
	Kind      ItemKind
	Title     string
	URL       string
	Author    string
	State     string // "open" or "closed"
	Merged    bool   // pull requests only
	Assignees []string
}

// ThreadIdentity is the composite key that maps an external item to its
// destination thread. At most one live thread exists per identity.
type ThreadIdentity struct {
	ForumID string
	Repo    string
	Number  int
}

// Identity returns the thread identity for this item in the given forum.
func (it ExternalItem) Identity(forumID string) ThreadIdentity {
	return ThreadIdentity{ForumID: forumID, Repo: it.Repo, Number: it.Number}
}

// threadNumberPattern extracts the item number from a canonical thread name.
var threadNumberPattern = regexp.MustCompile(`「#(\d+)」`)

// ThreadMarker returns the bracketed number marker embedded in every thread
// name. The closing bracket acts as the boundary that keeps item 1 from
// matching a thread for item 10.
func ThreadMarker(number int) string {
	return fmt.Sprintf("「#%d」", number)
}

// ThreadName builds the canonical thread name for an item.
func ThreadName(number int, title string) string {
	return ThreadMarker(number) + title
}

// ThreadNumber parses the item number out of a thread name. Returns false
// when the name carries no recognizable marker.
func ThreadNumber(name string) (int, bool) {
	m := threadNumberPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NameMatches reports whether a thread name belongs to the given item number.
func NameMatches(name string, number int) bool {
	n, ok := ThreadNumber(name)
	return ok && n == number
}

// RepoShortName returns the repository name without its owner prefix.
// Threads are tagged with this short name to scope them to a repository.
func RepoShortName(repo string) string {
	if idx := strings.LastIndex(repo, "/"); idx >= 0 {
		return repo[idx+1:]
	}
	return repo
}
