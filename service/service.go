package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/mo"
	"go.uber.org/zap"

	"lotteryfactor/fetcher"
	"lotteryfactor/github"
	"lotteryfactor/logger"
	"lotteryfactor/models"
)

// DBInterface abstracts the store operations the syncer needs
// (for testability)
type DBInterface interface {
	GetOrCreateRepositoryID(ctx context.Context, owner, name string) (int64, error)
	OldestMergedAt(ctx context.Context, repoID int64) (mo.Option[time.Time], error)
	UpsertPullRequests(ctx context.Context, repoID int64, prs []models.PullRequest) error
	UpsertMainlineCommits(ctx context.Context, repoID int64, commits []models.MainlineCommit, linked []models.PullRequest) error
}

// GitHubClientInterface abstracts the upstream API
// (for testability)
type GitHubClientInterface interface {
	FetchPullRequests(ctx context.Context, owner, name string, cursor mo.Option[string]) (*github.PullRequestPage, error)
	FetchDirectCommits(ctx context.Context, owner, name string, since time.Time, cursor mo.Option[string]) (*github.CommitPage, error)
	RateLimit(ctx context.Context) (*github.RateLimit, error)
}

// ErrInvalidWindow is returned for a non-positive day count.
var ErrInvalidWindow = errors.New("lookback window must be at least one day")

// Syncer keeps the pull request and mainline commit ledgers of a repository
// up to date for a lookback window.
type Syncer struct {
	database DBInterface
	client   GitHubClientInterface
	now      func() time.Time
}

// NewSyncer creates a syncer over the given store and upstream client.
func NewSyncer(database DBInterface, client GitHubClientInterface) *Syncer {
	return &Syncer{
		database: database,
		client:   client,
		now:      time.Now,
	}
}

// Sync refreshes both ledgers for owner/name. The pull request pass is
// skipped when the cache already reaches back far enough; the commit pass
// always runs, even when the pull request pass failed. The boolean is false
// when either pass hit an upstream failure. A returned error is a store
// failure and aborts the run.
func (s *Syncer) Sync(ctx context.Context, owner, name string, days int) (bool, error) {
	if days <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidWindow, days)
	}
	log := s.runLogger(owner, name, days)

	repoID, err := s.database.GetOrCreateRepositoryID(ctx, owner, name)
	if err != nil {
		return false, fmt.Errorf("failed to resolve repository %s/%s: %w", owner, name, err)
	}
	log = log.With(zap.Int64("repository_id", repoID))
	log.Info("Starting sync")

	s.logQuota(ctx, log)

	sufficient, err := s.IsCoverageSufficient(ctx, repoID, days)
	if err != nil {
		return false, err
	}

	prOK := true
	if sufficient {
		log.Info("Cached pull requests cover the window, skipping pull request sync")
	} else {
		prOK, err = s.syncPullRequests(ctx, log, owner, name, repoID, days)
		if err != nil {
			return false, err
		}
	}

	commitsOK, err := s.syncMainlineCommits(ctx, log, owner, name, repoID, days)
	if err != nil {
		return false, err
	}

	ok := prOK && commitsOK
	log.Info("Sync finished",
		zap.Bool("pull_requests_ok", prOK),
		zap.Bool("commits_ok", commitsOK),
		zap.Bool("ok", ok))
	return ok, nil
}

// IsCoverageSufficient reports whether the stored pull requests already reach
// back to the start of the window. It assumes the stored range has no gaps,
// so an interrupted earlier sync can make it answer true too early.
func (s *Syncer) IsCoverageSufficient(ctx context.Context, repoID int64, days int) (bool, error) {
	oldestNeeded := models.Window(s.now(), days)

	oldest, err := s.database.OldestMergedAt(ctx, repoID)
	if err != nil {
		return false, fmt.Errorf("failed to check pull request coverage: %w", err)
	}

	stored, ok := oldest.Get()
	if !ok {
		return false, nil
	}
	return !models.Day(stored).After(oldestNeeded), nil
}

// SyncPullRequests pages through merged pull requests, most recently updated
// first, storing those merged inside the window.
func (s *Syncer) SyncPullRequests(ctx context.Context, owner, name string, repoID int64, days int) (bool, error) {
	if days <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidWindow, days)
	}
	return s.syncPullRequests(ctx, s.runLogger(owner, name, days), owner, name, repoID, days)
}

// SyncMainlineCommits pages through the default branch history of the window.
func (s *Syncer) SyncMainlineCommits(ctx context.Context, owner, name string, repoID int64, days int) (bool, error) {
	if days <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidWindow, days)
	}
	return s.syncMainlineCommits(ctx, s.runLogger(owner, name, days), owner, name, repoID, days)
}

func (s *Syncer) syncPullRequests(ctx context.Context, log *zap.Logger, owner, name string, repoID int64, days int) (bool, error) {
	oldestNeeded := models.Window(s.now(), days)

	pass := fetcher.Pass[github.PullRequestNode]{
		Name: "pull_requests",
		Fetch: func(ctx context.Context, cursor mo.Option[string]) (fetcher.Page[github.PullRequestNode], error) {
			page, err := s.client.FetchPullRequests(ctx, owner, name, cursor)
			if err != nil {
				return fetcher.Page[github.PullRequestNode]{}, err
			}
			return fetcher.Page[github.PullRequestNode]{
				Items:       page.PullRequests,
				HasNextPage: page.PageInfo.HasNextPage,
				EndCursor:   page.PageInfo.EndCursor,
			}, nil
		},
		Keep: func(pr github.PullRequestNode) bool {
			mergedAt, ok := pr.MergedAt.Get()
			return ok && !mergedAt.Before(oldestNeeded)
		},
		Store: func(ctx context.Context, nodes []github.PullRequestNode) error {
			return s.database.UpsertPullRequests(ctx, repoID, dedupePullRequests(nodes))
		},
		// Pages are ordered by last update, so a page with nothing merged in
		// the window is taken to mean every later page is older still. An old
		// pull request updated recently breaks that assumption; accepted.
		StopWhen: func(kept []github.PullRequestNode) bool {
			return len(kept) == 0
		},
	}

	return finishPass(log, pass.Name)(fetcher.Run(ctx, log, pass))
}

func (s *Syncer) syncMainlineCommits(ctx context.Context, log *zap.Logger, owner, name string, repoID int64, days int) (bool, error) {
	since := models.Window(s.now(), days)

	pass := fetcher.Pass[github.CommitNode]{
		Name: "mainline_commits",
		Fetch: func(ctx context.Context, cursor mo.Option[string]) (fetcher.Page[github.CommitNode], error) {
			page, err := s.client.FetchDirectCommits(ctx, owner, name, since, cursor)
			if err != nil {
				return fetcher.Page[github.CommitNode]{}, err
			}
			return fetcher.Page[github.CommitNode]{
				Items:       page.Commits,
				HasNextPage: page.PageInfo.HasNextPage,
				EndCursor:   page.PageInfo.EndCursor,
			}, nil
		},
		// since is applied upstream, so nothing is filtered here and only
		// the last page ends the pass
		Store: func(ctx context.Context, nodes []github.CommitNode) error {
			commits, linked := splitCommitPage(nodes)
			return s.database.UpsertMainlineCommits(ctx, repoID, commits, linked)
		},
	}

	return finishPass(log, pass.Name)(fetcher.Run(ctx, log, pass))
}

// finishPass turns a pass result into the (ok, err) pair of the sync
// methods: upstream failures become false, store failures stay errors.
func finishPass(log *zap.Logger, name string) func(fetcher.Stats, error) (bool, error) {
	return func(stats fetcher.Stats, err error) (bool, error) {
		fields := []zap.Field{
			zap.String("pass", name),
			zap.Int("pages", stats.Pages),
			zap.Int("fetched", stats.Fetched),
			zap.Int("stored", stats.Stored),
		}
		if err != nil {
			if errors.Is(err, fetcher.ErrUpstream) {
				log.Error("Upstream failure, pass aborted", append(fields, zap.Error(err))...)
				return false, nil
			}
			return false, err
		}
		log.Info("Pass complete", fields...)
		return true, nil
	}
}

// splitCommitPage maps a page of history onto ledger rows. Commits without a
// resolvable author are dropped; the pull requests they came through are kept.
func splitCommitPage(nodes []github.CommitNode) ([]models.MainlineCommit, []models.PullRequest) {
	commits := make([]models.MainlineCommit, 0, len(nodes))
	var linkedNodes []github.PullRequestNode

	for _, node := range nodes {
		prNumber := mo.None[int]()
		if pr, ok := node.AssociatedPullRequest.Get(); ok {
			linkedNodes = append(linkedNodes, pr)
			prNumber = mo.Some(pr.Number)
		}

		author, ok := node.AuthorLogin.Get()
		if !ok {
			continue
		}
		commits = append(commits, models.MainlineCommit{
			SHA:         node.OID,
			Author:      author,
			CommittedAt: node.CommittedAt,
			PRNumber:    prNumber,
		})
	}

	return commits, dedupePullRequests(linkedNodes)
}

// dedupePullRequests converts nodes to ledger rows, keeping the last
// occurrence of each number.
func dedupePullRequests(nodes []github.PullRequestNode) []models.PullRequest {
	index := make(map[int]int, len(nodes))
	prs := make([]models.PullRequest, 0, len(nodes))
	for _, node := range nodes {
		pr := models.PullRequest{
			Number:   node.Number,
			Title:    node.Title,
			Author:   node.AuthorLogin.OrElse(models.UnknownAuthor),
			MergedAt: node.MergedAt,
		}
		if i, seen := index[node.Number]; seen {
			prs[i] = pr
			continue
		}
		index[node.Number] = len(prs)
		prs = append(prs, pr)
	}
	return prs
}

func (s *Syncer) logQuota(ctx context.Context, log *zap.Logger) {
	rl, err := s.client.RateLimit(ctx)
	if err != nil {
		log.Warn("Could not read GitHub rate limit", zap.Error(err))
		return
	}
	log.Info("GitHub rate limit",
		zap.Int("limit", rl.Limit),
		zap.Int("remaining", rl.Remaining),
		zap.Time("reset", rl.Reset))
}

func (s *Syncer) runLogger(owner, name string, days int) *zap.Logger {
	id := ulid.MustNew(ulid.Timestamp(s.now()), ulid.Monotonic(rand.Reader, 0))
	return logger.WithContext(
		zap.String("sync_id", "sync_"+id.String()),
		zap.String("owner", owner),
		zap.String("name", name),
		zap.Int("days", days))
}
