package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumsync/internal/cache"
	"github.com/forumsync/internal/forum"
	"github.com/forumsync/internal/model"
	"github.com/forumsync/internal/tags"
	"github.com/forumsync/internal/threads"
)

type fixture struct {
	memory     *forum.Memory
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	m := forum.NewMemory()
	resolver := threads.NewResolver(m, cache.New())
	d := New(m, resolver, tags.NewResolver(m), cfg)
	t.Cleanup(d.Coalescer().Stop)
	return &fixture{memory: m, dispatcher: d}
}

func defaultConfig() Config {
	return Config{
		IssuesForumID: "issues-forum",
		PRsForumID:    "prs-forum",
		ReviewDelay:   20 * time.Millisecond,
	}
}

func event(t *testing.T, eventType, repo string, payload interface{}) model.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return model.Event{Type: eventType, Repo: repo, DeliveryID: "delivery-1", Payload: raw}
}

func issuePayload(action string, number int, title, state, author string) map[string]interface{} {
	return map[string]interface{}{
		"action": action,
		"issue": map[string]interface{}{
			"number":   number,
			"title":    title,
			"html_url": "https://github.com/acme/widgets/issues/42",
			"state":    state,
			"user":     map[string]interface{}{"login": author},
		},
	}
}

func prPayload(action string, number int, title, state string, merged bool, author string) map[string]interface{} {
	return map[string]interface{}{
		"action": action,
		"pull_request": map[string]interface{}{
			"number":   number,
			"title":    title,
			"html_url": "https://github.com/acme/widgets/pull/7",
			"state":    state,
			"merged":   merged,
			"user":     map[string]interface{}{"login": author},
		},
	}
}

func findThread(t *testing.T, m *forum.Memory, forumID string, number int) *forum.Thread {
	t.Helper()
	active, err := m.ListActiveThreads(context.Background(), forumID)
	require.NoError(t, err)
	for _, th := range active {
		if model.NameMatches(th.Name, number) {
			return th
		}
	}
	t.Fatalf("no thread for item %d in %s", number, forumID)
	return nil
}

func TestIssueOpened(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ev := event(t, model.EventIssues, "acme/widgets", issuePayload("opened", 42, "Fix the flaky test", "open", "alice"))
	require.NoError(t, f.dispatcher.Handle(ctx, ev))

	thread := findThread(t, f.memory, "issues-forum", 42)
	assert.Equal(t, "「#42」Fix the flaky test", thread.Name)
	assert.True(t, forum.TagNames(thread.Tags)["open"])

	msgs := f.memory.Messages(thread.ID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "🆕 Issue created: **Fix the flaky test** by alice")
}

// A repeated "opened" delivery must not create a second thread, and the
// announcement appears once per delivery at most.
func TestIssueOpenedIdempotentThread(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ev := event(t, model.EventIssues, "acme/widgets", issuePayload("opened", 42, "Fix it", "open", "alice"))
	require.NoError(t, f.dispatcher.Handle(ctx, ev))
	require.NoError(t, f.dispatcher.Handle(ctx, ev))

	assert.Equal(t, 1, f.memory.ThreadCount("issues-forum"))
}

func TestIssueClosedAndReopened(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventIssues, "acme/widgets",
		issuePayload("opened", 42, "Fix it", "open", "alice"))))
	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventIssues, "acme/widgets",
		issuePayload("closed", 42, "Fix it", "closed", "bob"))))

	thread := findThread(t, f.memory, "issues-forum", 42)
	names := forum.TagNames(thread.Tags)
	assert.True(t, names["closed"])
	assert.False(t, names["open"])
	msgs := f.memory.Messages(thread.ID)
	assert.Contains(t, msgs[len(msgs)-1], "❌ Issue closed: **Fix it** Closed By: bob")

	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventIssues, "acme/widgets",
		issuePayload("reopened", 42, "Fix it", "open", "carol"))))
	thread = findThread(t, f.memory, "issues-forum", 42)
	names = forum.TagNames(thread.Tags)
	assert.True(t, names["open"])
	assert.False(t, names["closed"])
	msgs = f.memory.Messages(thread.ID)
	assert.Contains(t, msgs[len(msgs)-1], "🔄 Issue reopened: **Fix it** Reopened By: carol")
}

func TestPullRequestMerged(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventPullRequest, "acme/widgets",
		prPayload("opened", 7, "Add pagination", "open", false, "alice"))))
	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventPullRequest, "acme/widgets",
		prPayload("closed", 7, "Add pagination", "closed", true, "bob"))))

	thread := findThread(t, f.memory, "prs-forum", 7)
	names := forum.TagNames(thread.Tags)
	assert.True(t, names["merged"])
	assert.False(t, names["open"])
	assert.False(t, names["closed"])

	msgs := f.memory.Messages(thread.ID)
	assert.Contains(t, msgs[len(msgs)-1], "✅ PR merged: **Add pagination** Merged By: bob")
}

func TestPullRequestClosedUnmerged(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventPullRequest, "acme/widgets",
		prPayload("closed", 7, "Add pagination", "closed", false, "bob"))))

	thread := findThread(t, f.memory, "prs-forum", 7)
	assert.True(t, forum.TagNames(thread.Tags)["closed"])
	msgs := f.memory.Messages(thread.ID)
	assert.Contains(t, msgs[len(msgs)-1], "❌ PR closed: **Add pagination** Closed By: bob")
}

func TestAssignmentNotice(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	payload := issuePayload("assigned", 42, "Fix it", "open", "alice")
	payload["assignee"] = map[string]interface{}{"login": "dave"}
	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventIssues, "acme/widgets", payload)))

	thread := findThread(t, f.memory, "issues-forum", 42)
	msgs := f.memory.Messages(thread.ID)
	assert.Contains(t, msgs[len(msgs)-1], "👤 Issue assigned to dave")
}

// A comment arriving for an item with no thread (missed "opened" event)
// creates the thread on the fly.
func TestCommentCreatesThreadOnDemand(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	payload := map[string]interface{}{
		"action": "created",
		"issue": map[string]interface{}{
			"number":   42,
			"title":    "Fix it",
			"html_url": "https://github.com/acme/widgets/issues/42",
			"state":    "open",
			"user":     map[string]interface{}{"login": "alice"},
		},
		"comment": map[string]interface{}{
			"body":     "me too",
			"html_url": "https://github.com/acme/widgets/issues/42#issuecomment-1",
			"user":     map[string]interface{}{"login": "bob"},
		},
	}
	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventIssueComment, "acme/widgets", payload)))

	thread := findThread(t, f.memory, "issues-forum", 42)
	msgs := f.memory.Messages(thread.ID)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Contains(t, last, "# **[ New comment from bob ](https://github.com/acme/widgets/issues/42#issuecomment-1)**")
	assert.Contains(t, last, "me too")
}

func TestEmptyCommentDropped(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := map[string]interface{}{
		"action":  "created",
		"issue":   map[string]interface{}{"number": 42, "title": "Fix it", "state": "open"},
		"comment": map[string]interface{}{"body": "", "user": map[string]interface{}{"login": "bob"}},
	}
	require.NoError(t, f.dispatcher.Handle(context.Background(), event(t, model.EventIssueComment, "acme/widgets", payload)))
	assert.Equal(t, 0, f.memory.ThreadCount("issues-forum"))
}

func TestReviewCoalescedIntoOneFlush(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventPullRequest, "acme/widgets",
		prPayload("opened", 7, "Add pagination", "open", false, "alice"))))

	reviewPayload := map[string]interface{}{
		"action": "submitted",
		"pull_request": map[string]interface{}{
			"number": 7, "title": "Add pagination", "html_url": "https://github.com/acme/widgets/pull/7", "state": "open",
		},
		"review": map[string]interface{}{
			"id": 99, "body": "looks good", "html_url": "https://github.com/acme/widgets/pull/7#review-99",
			"user": map[string]interface{}{"login": "carol"},
		},
	}
	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventPullRequestReview, "acme/widgets", reviewPayload)))

	for _, body := range []string{"first", "second"} {
		commentPayload := map[string]interface{}{
			"action": "created",
			"pull_request": map[string]interface{}{
				"number": 7, "title": "Add pagination", "html_url": "https://github.com/acme/widgets/pull/7", "state": "open",
			},
			"comment": map[string]interface{}{
				"body": body, "html_url": "https://github.com/acme/widgets/pull/7#comment", "pull_request_review_id": 99,
				"user": map[string]interface{}{"login": "carol"},
			},
		}
		require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventPullRequestReviewComment, "acme/widgets", commentPayload)))
	}

	require.Eventually(t, func() bool {
		return f.dispatcher.Coalescer().PendingCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	thread := findThread(t, f.memory, "prs-forum", 7)
	require.Eventually(t, func() bool {
		return len(f.memory.Messages(thread.ID)) >= 4
	}, 2*time.Second, 10*time.Millisecond)

	msgs := f.memory.Messages(thread.ID)
	// opened announcement, then review body, then comments in order.
	assert.Contains(t, msgs[1], "Review submitted by carol")
	assert.Contains(t, msgs[1], "looks good")
	assert.Contains(t, msgs[2], "Review comment from carol")
	assert.Contains(t, msgs[2], "first")
	assert.Contains(t, msgs[3], "second")
}

func TestNonSubmittedReviewIgnored(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := map[string]interface{}{
		"action":       "edited",
		"pull_request": map[string]interface{}{"number": 7, "title": "t", "state": "open"},
		"review":       map[string]interface{}{"id": 99, "body": "b", "user": map[string]interface{}{"login": "carol"}},
	}
	require.NoError(t, f.dispatcher.Handle(context.Background(), event(t, model.EventPullRequestReview, "acme/widgets", payload)))
	assert.Equal(t, 0, f.dispatcher.Coalescer().PendingCount())
}

func TestMalformedPayloadDropped(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		ev   model.Event
	}{
		{"invalid json", model.Event{Type: model.EventIssues, Repo: "acme/widgets", Payload: []byte("{not json")}},
		{"missing number", event(t, model.EventIssues, "acme/widgets", map[string]interface{}{"action": "opened", "issue": map[string]interface{}{"title": "no number"}})},
		{"unknown type", event(t, "workflow_run", "acme/widgets", map[string]interface{}{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, f.dispatcher.Handle(ctx, tt.ev))
			assert.Equal(t, 0, f.memory.ThreadCount("issues-forum"))
		})
	}
}

func TestFeedAnnouncements(t *testing.T) {
	cfg := defaultConfig()
	cfg.IssuesFeedChannelID = "issues-feed"
	cfg.PRsFeedChannelID = "prs-feed"
	f := newFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventIssues, "acme/widgets",
		issuePayload("opened", 42, "Fix it", "open", "alice"))))
	require.NoError(t, f.dispatcher.Handle(ctx, event(t, model.EventPullRequest, "acme/widgets",
		prPayload("closed", 7, "Add pagination", "closed", true, "bob"))))

	issueFeed := f.memory.ChannelMessages("issues-feed")
	require.Len(t, issueFeed, 1)
	assert.Contains(t, issueFeed[0], "New issue opened")
	assert.Contains(t, issueFeed[0], "alice")

	prFeed := f.memory.ChannelMessages("prs-feed")
	require.Len(t, prFeed, 1)
	assert.Contains(t, prFeed[0], "PR merged")
}

func TestNotifyError(t *testing.T) {
	cfg := defaultConfig()
	cfg.LogChannelID = "ops-log"
	f := newFixture(t, cfg)

	f.dispatcher.NotifyError(context.Background(), "⚠️ something broke")
	msgs := f.memory.ChannelMessages("ops-log")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "something broke")
}
