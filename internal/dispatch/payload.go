package dispatch

import "github.com/forumsync/internal/model"

// GitHub webhook payload shapes, trimmed to the fields the handlers
// consume.

type userRef struct {
	Login string `json:"login"`
}

type itemRef struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	HTMLURL   string    `json:"html_url"`
	State     string    `json:"state"`
	Merged    bool      `json:"merged"`
	User      userRef   `json:"user"`
	Assignees []userRef `json:"assignees"`
}

func (ref itemRef) toItem(repo string, kind model.ItemKind) model.ExternalItem {
	item := model.ExternalItem{
		Repo:   repo,
		Number: ref.Number,
		Kind:   kind,
		Title:  ref.Title,
		URL:    ref.HTMLURL,
		Author: ref.User.Login,
		State:  ref.State,
		Merged: ref.Merged,
	}
	for _, assignee := range ref.Assignees {
		item.Assignees = append(item.Assignees, assignee.Login)
	}
	return item
}

type issueEventPayload struct {
	Action   string   `json:"action"`
	Issue    itemRef  `json:"issue"`
	Assignee *userRef `json:"assignee"`
}

type pullRequestEventPayload struct {
	Action      string   `json:"action"`
	PullRequest itemRef  `json:"pull_request"`
	Assignee    *userRef `json:"assignee"`
}

type commentRef struct {
	Body                string `json:"body"`
	HTMLURL             string `json:"html_url"`
	User                userRef `json:"user"`
	PullRequestReviewID int64  `json:"pull_request_review_id"`
}

type issueCommentEventPayload struct {
	Action  string     `json:"action"`
	Issue   itemRef    `json:"issue"`
	Comment commentRef `json:"comment"`
}

type reviewRef struct {
	ID      int64   `json:"id"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	User    userRef `json:"user"`
}

type reviewEventPayload struct {
	Action      string    `json:"action"`
	PullRequest itemRef   `json:"pull_request"`
	Review      reviewRef `json:"review"`
}

type reviewCommentEventPayload struct {
	Action      string     `json:"action"`
	PullRequest itemRef    `json:"pull_request"`
	Comment     commentRef `json:"comment"`
}
