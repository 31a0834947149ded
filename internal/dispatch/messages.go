package dispatch

import (
	"fmt"

	"github.com/forumsync/internal/model"
)

func kindLabel(kind model.ItemKind) string {
	if kind == model.KindPullRequest {
		return "PR"
	}
	return "Issue"
}

// CreatedMessage is the announcement posted when a thread is first
// created for an item; the reconciliation engine reuses it for threads
// it backfills.
func CreatedMessage(item model.ExternalItem) string {
	if item.Kind == model.KindPullRequest {
		return fmt.Sprintf("🆕 Pull request opened: **%s** by %s\n%s", item.Title, item.Author, item.URL)
	}
	return fmt.Sprintf("🆕 Issue created: **%s** by %s\n%s", item.Title, item.Author, item.URL)
}

func closedMessage(item model.ExternalItem) string {
	return fmt.Sprintf("❌ %s closed: **%s** Closed By: %s", kindLabel(item.Kind), item.Title, item.Author)
}

func mergedMessage(item model.ExternalItem) string {
	return fmt.Sprintf("✅ PR merged: **%s** Merged By: %s", item.Title, item.Author)
}

func reopenedMessage(item model.ExternalItem) string {
	return fmt.Sprintf("🔄 %s reopened: **%s** Reopened By: %s", kindLabel(item.Kind), item.Title, item.Author)
}

func assignmentMessage(item model.ExternalItem, action, assignee string) string {
	if action == "unassigned" {
		return fmt.Sprintf("👤 %s unassigned from %s", kindLabel(item.Kind), assignee)
	}
	return fmt.Sprintf("👤 %s assigned to %s", kindLabel(item.Kind), assignee)
}

func commentPrefix(author, url string) string {
	return fmt.Sprintf("# **[ New comment from %s ](%s)**\n", author, url)
}

func reviewPrefix(author, url string) string {
	return fmt.Sprintf("# **[ Review submitted by %s ](%s)**\n", author, url)
}

func reviewCommentPrefix(author, url string) string {
	return fmt.Sprintf("# **[ Review comment from %s ](%s)**\n", author, url)
}

func feedMessage(item model.ExternalItem, action string) string {
	link := fmt.Sprintf("**[%s](%s)**", item.Title, item.URL)
	label := "issue"
	if item.Kind == model.KindPullRequest {
		label = "pull request"
	}
	switch action {
	case "opened":
		return fmt.Sprintf("New %s opened: %s by %s", label, link, item.Author)
	case "closed":
		if item.Kind == model.KindPullRequest && item.Merged {
			return fmt.Sprintf("PR merged: %s Merged By: %s", link, item.Author)
		}
		return fmt.Sprintf("%s closed: %s Closed By: %s", kindLabel(item.Kind), link, item.Author)
	case "reopened":
		return fmt.Sprintf("%s reopened: %s Reopened By: %s", kindLabel(item.Kind), link, item.Author)
	}
	return ""
}
