package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/forumsync/internal/model"
	"github.com/forumsync/internal/retry"
)

// Typed failure modes the reconciliation engine handles distinctly.
var (
	ErrUnauthorized = errors.New("tracker: unauthorized")
	ErrForbidden    = errors.New("tracker: forbidden")
	ErrNotFound     = errors.New("tracker: not found")
)

// errTransient marks server-side failures worth retrying before the
// listing is abandoned.
var errTransient = errors.New("tracker: transient")

const (
	// PerPage is the page size for list endpoints.
	PerPage = 100
	// MaxPages caps pagination per listing to bound a reconciliation pass.
	MaxPages = 50
)

// Client is a paginated, rate-limited GitHub REST client. One request
// per second keeps full-repository listings inside API rate limits; the
// limiter replaces the fixed inter-page sleep of simpler designs.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retry   retry.Config
}

// NewClient creates a client for the given API base URL (empty means
// https://api.github.com) and bearer token.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		retry:   retry.DefaultConfig(),
	}
}

// SetRetry overrides the transient-failure retry policy.
func (c *Client) SetRetry(cfg retry.Config) {
	c.retry = cfg
}

// SetPageInterval adjusts the inter-request delay. Tests use a zero
// interval.
func (c *Client) SetPageInterval(d time.Duration) {
	if d <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	c.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// CheckRepo probes repository reachability with a single metadata fetch.
// 401, 403 and 404 map to the typed errors above so the caller can emit
// distinct operator diagnostics.
func (c *Client) CheckRepo(ctx context.Context, repo string) error {
	var probe struct {
		FullName string `json:"full_name"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/repos/%s", c.baseURL, repo), &probe); err != nil {
		return fmt.Errorf("failed to check repository %s: %w", repo, err)
	}
	return nil
}

// ListIssues fetches every issue in the repository (state=all). Items the
// API cross-posts from pull requests are filtered out.
func (c *Client) ListIssues(ctx context.Context, repo string) ([]model.ExternalItem, error) {
	raw, err := c.listPages(ctx, repo, "issues")
	if err != nil {
		return nil, err
	}
	items := make([]model.ExternalItem, 0, len(raw))
	for _, it := range raw {
		if it.PullRequest != nil {
			continue
		}
		items = append(items, it.toItem(repo, model.KindIssue))
	}
	return items, nil
}

// ListPulls fetches every pull request in the repository (state=all).
func (c *Client) ListPulls(ctx context.Context, repo string) ([]model.ExternalItem, error) {
	raw, err := c.listPages(ctx, repo, "pulls")
	if err != nil {
		return nil, err
	}
	items := make([]model.ExternalItem, 0, len(raw))
	for _, it := range raw {
		items = append(items, it.toItem(repo, model.KindPullRequest))
	}
	return items, nil
}

// apiItem is the subset of the GitHub issue/PR representation we consume.
type apiItem struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	HTMLURL     string `json:"html_url"`
	State       string `json:"state"`
	MergedAt    *string `json:"merged_at"`
	User        struct {
		Login string `json:"login"`
	} `json:"user"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

func (a apiItem) toItem(repo string, kind model.ItemKind) model.ExternalItem {
	item := model.ExternalItem{
		Repo:   repo,
		Number: a.Number,
		Kind:   kind,
		Title:  a.Title,
		URL:    a.HTMLURL,
		Author: a.User.Login,
		State:  a.State,
		Merged: a.MergedAt != nil,
	}
	for _, assignee := range a.Assignees {
		item.Assignees = append(item.Assignees, assignee.Login)
	}
	return item
}

// listPages walks the paginated endpoint until a short page, the page
// cap, or an error. There is no retry: a failed page abandons the rest
// of the listing and the caller works with what arrived so far being
// absent (the next reconciliation pass repairs it).
func (c *Client) listPages(ctx context.Context, repo, endpoint string) ([]apiItem, error) {
	var all []apiItem
	for page := 1; page <= MaxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		url := fmt.Sprintf("%s/repos/%s/%s?state=all&per_page=%d&page=%d",
			c.baseURL, repo, endpoint, PerPage, page)
		var batch []apiItem
		if err := c.get(ctx, url, &batch); err != nil {
			return nil, fmt.Errorf("failed to fetch %s page %d for %s: %w", endpoint, page, repo, err)
		}
		all = append(all, batch...)
		if len(batch) < PerPage {
			break
		}
	}
	return all, nil
}

// get fetches one URL, retrying server-side (5xx) failures with backoff.
// Auth and client errors are never retried.
func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	return retry.Do(ctx, c.retry, func() error {
		return c.getOnce(ctx, url, out)
	}, func(err error) bool {
		return errors.Is(err, errTransient)
	})
}

func (c *Client) getOnce(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "forumsync")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("GitHub API request failed with status %d: %w", resp.StatusCode, errTransient)
	default:
		return fmt.Errorf("GitHub API request failed with status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
