package model

import "encoding/json"

// Event types delivered by the webhook listener. These match the
// X-GitHub-Event header values.
const (
	EventIssues                   = "issues"
	EventPullRequest              = "pull_request"
	EventIssueComment             = "issue_comment"
	EventPullRequestReview        = "pull_request_review"
	EventPullRequestReviewComment = "pull_request_review_comment"
)

// Event is the validated inbound envelope handed to the dispatcher.
// Signature verification and repository allow-listing happen upstream.
type Event struct {
	Type       string
	Repo       string
	DeliveryID string
	Payload    json.RawMessage
}
