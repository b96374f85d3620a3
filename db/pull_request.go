package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"
	"go.uber.org/zap"

	"lotteryfactor/logger"
	"lotteryfactor/models"
)

const upsertPullRequestQuery = `
	INSERT INTO pull_requests (repository_id, pr_number, title, author, merged_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (repository_id, pr_number) DO UPDATE SET
		title = excluded.title,
		author = excluded.author,
		merged_at = excluded.merged_at
`

// Used for pull requests discovered through a commit: an existing row from
// the pull request pass is never overwritten.
const insertPullRequestIfAbsentQuery = `
	INSERT INTO pull_requests (repository_id, pr_number, title, author, merged_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (repository_id, pr_number) DO NOTHING
`

// UpsertPullRequests writes one page of pull requests in a single
// transaction. A re-fetched pull request overwrites title, author and merged_at.
func (db *DB) UpsertPullRequests(ctx context.Context, repoID int64, prs []models.PullRequest) error {
	if len(prs) == 0 {
		return nil
	}
	if repoID <= 0 {
		return fmt.Errorf("%w: repository id must be positive", ErrInvalidInput)
	}

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		return execPullRequests(ctx, tx, upsertPullRequestQuery, repoID, prs)
	})
	if err != nil {
		return err
	}

	logger.Debug("Upserted pull requests",
		zap.Int64("repository_id", repoID),
		zap.Int("count", len(prs)))
	return nil
}

func execPullRequests(ctx context.Context, tx *sqlx.Tx, query string, repoID int64, prs []models.PullRequest) error {
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare pull request statement: %w", err)
	}
	defer stmt.Close()

	for _, pr := range prs {
		author := pr.Author
		if author == "" {
			author = models.UnknownAuthor
		}
		if _, err := stmt.ExecContext(ctx,
			repoID,
			pr.Number,
			pr.Title,
			author,
			nullableTime(pr.MergedAt),
		); err != nil {
			return fmt.Errorf("failed to write pull request #%d: %w", pr.Number, err)
		}
	}
	return nil
}

// OldestMergedAt returns the earliest merge time stored for the repository,
// or None when it has no pull requests yet.
func (db *DB) OldestMergedAt(ctx context.Context, repoID int64) (mo.Option[time.Time], error) {
	var oldest sql.NullString
	query := db.conn.Rebind(`SELECT MIN(merged_at) FROM pull_requests WHERE repository_id = ?`)
	if err := db.conn.GetContext(ctx, &oldest, query, repoID); err != nil {
		return mo.None[time.Time](), fmt.Errorf("failed to get oldest pull request for repository %d: %w", repoID, err)
	}

	if !oldest.Valid {
		return mo.None[time.Time](), nil
	}
	t, err := parseTime(oldest.String)
	if err != nil {
		return mo.None[time.Time](), err
	}
	return mo.Some(t), nil
}

// GetPullRequests returns the repository's pull requests by number.
func (db *DB) GetPullRequests(ctx context.Context, repoID int64) ([]models.PullRequest, error) {
	var rows []pullRequestRow
	query := db.conn.Rebind(`
		SELECT pr_number, title, author, merged_at
		FROM pull_requests
		WHERE repository_id = ?
		ORDER BY pr_number
	`)
	if err := db.conn.SelectContext(ctx, &rows, query, repoID); err != nil {
		return nil, fmt.Errorf("failed to get pull requests for repository %d: %w", repoID, err)
	}

	prs := make([]models.PullRequest, 0, len(rows))
	for _, row := range rows {
		pr, err := row.toModel()
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	return prs, nil
}

// GetContributors counts pull requests per author, busiest first.
func (db *DB) GetContributors(ctx context.Context, owner, name string) ([]models.Contributor, error) {
	if owner == "" || name == "" {
		return nil, fmt.Errorf("%w: repository name and owner cannot be empty", ErrInvalidInput)
	}

	contributors := []models.Contributor{}
	query := db.conn.Rebind(`
		SELECT pr.author AS author, COUNT(*) AS pr_count
		FROM pull_requests pr
		JOIN repositories r ON pr.repository_id = r.id
		WHERE r.owner = ? AND r.name = ?
		GROUP BY pr.author
		ORDER BY pr_count DESC, author ASC
	`)
	if err := db.conn.SelectContext(ctx, &contributors, query, owner, name); err != nil {
		return nil, fmt.Errorf("failed to get contributors for %s/%s: %w", owner, name, err)
	}

	return contributors, nil
}
