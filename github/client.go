package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	gogithub "github.com/google/go-github/v62/github"
	"github.com/samber/mo"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"lotteryfactor/logger"
)

// PageSize is the number of nodes requested per page by both queries.
const PageSize = 100

// RateLimit represents GitHub's GraphQL rate limit information
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// PageInfo is the cursor state returned with every page.
type PageInfo struct {
	HasNextPage bool
	EndCursor   string
}

// PullRequestNode is one merged pull request as GitHub reports it.
type PullRequestNode struct {
	Number      int
	Title       string
	AuthorLogin mo.Option[string]
	MergedAt    mo.Option[time.Time]
}

// PullRequestPage is one page of merged pull requests, most recently updated first.
type PullRequestPage struct {
	PullRequests []PullRequestNode
	PageInfo     PageInfo
}

// CommitNode is one commit of the default branch history.
type CommitNode struct {
	OID                   string
	AuthorLogin           mo.Option[string]
	CommittedAt           time.Time
	AssociatedPullRequest mo.Option[PullRequestNode]
}

// CommitPage is one page of default branch history.
type CommitPage struct {
	Commits  []CommitNode
	PageInfo PageInfo
}

// Client represents a GitHub API client. Pages come from GraphQL; the REST
// client is only used for quota lookups.
type Client struct {
	graphql *githubv4.Client
	rest    *gogithub.Client
}

type pageInfoFields struct {
	HasNextPage bool
	EndCursor   githubv4.String
}

type pullRequestFields struct {
	Number githubv4.Int
	Title  githubv4.String
	Author *struct {
		Login githubv4.String
	}
	MergedAt *githubv4.DateTime
}

type pullRequestsQuery struct {
	Repository struct {
		PullRequests struct {
			PageInfo pageInfoFields
			Nodes    []pullRequestFields
		} `graphql:"pullRequests(first: 100, after: $cursor, states: MERGED, orderBy: {field: UPDATED_AT, direction: DESC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type commitHistoryQuery struct {
	Repository struct {
		DefaultBranchRef *struct {
			Target struct {
				Commit struct {
					History struct {
						PageInfo pageInfoFields
						Nodes    []struct {
							Oid           githubv4.GitObjectID
							CommittedDate githubv4.GitTimestamp
							Author        *struct {
								User *struct {
									Login githubv4.String
								}
							}
							AssociatedPullRequests struct {
								Nodes []pullRequestFields
							} `graphql:"associatedPullRequests(first: 1)"`
						}
					} `graphql:"history(first: 100, since: $since, after: $cursor)"`
				} `graphql:"... on Commit"`
			}
		}
	} `graphql:"repository(owner: $owner, name: $name)"`
}

const (
	graphqlURL  = "https://api.github.com/graphql"
	restBaseURL = "https://api.github.com/"
)

// NewClient builds a client authenticated with a static bearer token. Both
// APIs share one transport, which sleeps through secondary rate limits.
func NewClient(token string) (*Client, error) {
	httpClient, err := newHTTPClient(token)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing GitHub client")
	return newClient(httpClient, graphqlURL, restBaseURL)
}

func newHTTPClient(token string) (*http.Client, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		},
	}, nil
}

func newClient(httpClient *http.Client, graphqlEndpoint, restBase string) (*Client, error) {
	rest := gogithub.NewClient(httpClient)
	base, err := url.Parse(restBase)
	if err != nil {
		return nil, fmt.Errorf("invalid REST base URL %q: %w", restBase, err)
	}
	rest.BaseURL = base

	return &Client{
		graphql: githubv4.NewEnterpriseClient(graphqlEndpoint, httpClient),
		rest:    rest,
	}, nil
}

// FetchPullRequests fetches one page of merged pull requests.
func (c *Client) FetchPullRequests(ctx context.Context, owner, name string, cursor mo.Option[string]) (*PullRequestPage, error) {
	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"cursor": cursorVariable(cursor),
	}

	logger.Debug("Fetching pull requests page",
		zap.String("owner", owner),
		zap.String("name", name),
		zap.String("cursor", cursor.OrEmpty()))

	var q pullRequestsQuery
	if err := c.graphql.Query(ctx, &q, variables); err != nil {
		logger.Error("Failed to fetch pull requests",
			zap.Error(err),
			zap.String("owner", owner),
			zap.String("name", name))
		return nil, fmt.Errorf("failed to fetch pull requests for %s/%s: %w", owner, name, err)
	}

	conn := q.Repository.PullRequests
	page := &PullRequestPage{
		PullRequests: make([]PullRequestNode, 0, len(conn.Nodes)),
		PageInfo:     toPageInfo(conn.PageInfo),
	}
	for _, node := range conn.Nodes {
		page.PullRequests = append(page.PullRequests, toPullRequestNode(node))
	}
	return page, nil
}

// FetchDirectCommits fetches one page of default branch history since the
// given instant. A repository without a default branch yields an empty last page.
func (c *Client) FetchDirectCommits(ctx context.Context, owner, name string, since time.Time, cursor mo.Option[string]) (*CommitPage, error) {
	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"since":  githubv4.GitTimestamp{Time: since.UTC()},
		"cursor": cursorVariable(cursor),
	}

	logger.Debug("Fetching commit history page",
		zap.String("owner", owner),
		zap.String("name", name),
		zap.Time("since", since),
		zap.String("cursor", cursor.OrEmpty()))

	var q commitHistoryQuery
	if err := c.graphql.Query(ctx, &q, variables); err != nil {
		logger.Error("Failed to fetch commit history",
			zap.Error(err),
			zap.String("owner", owner),
			zap.String("name", name))
		return nil, fmt.Errorf("failed to fetch commits for %s/%s: %w", owner, name, err)
	}

	ref := q.Repository.DefaultBranchRef
	if ref == nil {
		logger.Warn("Repository has no default branch",
			zap.String("owner", owner),
			zap.String("name", name))
		return &CommitPage{Commits: []CommitNode{}}, nil
	}

	history := ref.Target.Commit.History
	page := &CommitPage{
		Commits:  make([]CommitNode, 0, len(history.Nodes)),
		PageInfo: toPageInfo(history.PageInfo),
	}
	for _, node := range history.Nodes {
		commit := CommitNode{
			OID:                   string(node.Oid),
			AuthorLogin:           mo.None[string](),
			CommittedAt:           node.CommittedDate.Time,
			AssociatedPullRequest: mo.None[PullRequestNode](),
		}
		if node.Author != nil && node.Author.User != nil && node.Author.User.Login != "" {
			commit.AuthorLogin = mo.Some(string(node.Author.User.Login))
		}
		if len(node.AssociatedPullRequests.Nodes) > 0 {
			commit.AssociatedPullRequest = mo.Some(toPullRequestNode(node.AssociatedPullRequests.Nodes[0]))
		}
		page.Commits = append(page.Commits, commit)
	}
	return page, nil
}

// RateLimit reports the GraphQL quota left for the token.
func (c *Client) RateLimit(ctx context.Context) (*RateLimit, error) {
	limits, _, err := c.rest.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rate limit: %w", err)
	}
	rate := limits.GetGraphQL()
	if rate == nil {
		return nil, fmt.Errorf("failed to fetch rate limit: no graphql bucket in response")
	}
	return &RateLimit{
		Limit:     rate.Limit,
		Remaining: rate.Remaining,
		Reset:     rate.Reset.Time,
	}, nil
}

func cursorVariable(cursor mo.Option[string]) *githubv4.String {
	if v, ok := cursor.Get(); ok {
		return githubv4.NewString(githubv4.String(v))
	}
	return (*githubv4.String)(nil)
}

func toPageInfo(p pageInfoFields) PageInfo {
	return PageInfo{HasNextPage: p.HasNextPage, EndCursor: string(p.EndCursor)}
}

func toPullRequestNode(f pullRequestFields) PullRequestNode {
	node := PullRequestNode{
		Number:      int(f.Number),
		Title:       string(f.Title),
		AuthorLogin: mo.None[string](),
		MergedAt:    mo.None[time.Time](),
	}
	if f.Author != nil && f.Author.Login != "" {
		node.AuthorLogin = mo.Some(string(f.Author.Login))
	}
	if f.MergedAt != nil {
		node.MergedAt = mo.Some(f.MergedAt.Time)
	}
	return node
}
