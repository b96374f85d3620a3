package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"lotteryfactor/logger"
	"lotteryfactor/models"
)

const upsertMainlineCommitQuery = `
	INSERT INTO mainline_commits (repository_id, sha, author, committed_at, pr_number)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (repository_id, sha) DO UPDATE SET
		author = excluded.author,
		committed_at = excluded.committed_at,
		pr_number = excluded.pr_number
`

// UpsertMainlineCommits writes one page of default-branch commits in a single
// transaction. The pull requests those commits were merged through are
// inserted first, and only when absent, so every non-null pr_number has a row
// to point at.
func (db *DB) UpsertMainlineCommits(ctx context.Context, repoID int64, commits []models.MainlineCommit, linked []models.PullRequest) error {
	if len(commits) == 0 && len(linked) == 0 {
		return nil
	}
	if repoID <= 0 {
		return fmt.Errorf("%w: repository id must be positive", ErrInvalidInput)
	}
	for _, c := range commits {
		if c.SHA == "" || c.Author == "" {
			return fmt.Errorf("%w: commit %q has no sha or author", ErrInvalidInput, c.SHA)
		}
	}

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		if len(linked) > 0 {
			if err := execPullRequests(ctx, tx, insertPullRequestIfAbsentQuery, repoID, linked); err != nil {
				return err
			}
		}
		if len(commits) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, tx.Rebind(upsertMainlineCommitQuery))
		if err != nil {
			return fmt.Errorf("failed to prepare commit statement: %w", err)
		}
		defer stmt.Close()

		for _, c := range commits {
			if _, err := stmt.ExecContext(ctx,
				repoID,
				c.SHA,
				c.Author,
				formatTime(c.CommittedAt),
				nullableInt(c.PRNumber),
			); err != nil {
				return fmt.Errorf("failed to write commit %s: %w", c.SHA, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Upserted mainline commits",
		zap.Int64("repository_id", repoID),
		zap.Int("commits", len(commits)),
		zap.Int("linked_pull_requests", len(linked)))
	return nil
}

// GetMainlineCommits returns the repository's commits, newest first.
func (db *DB) GetMainlineCommits(ctx context.Context, repoID int64) ([]models.MainlineCommit, error) {
	var rows []mainlineCommitRow
	query := db.conn.Rebind(`
		SELECT sha, author, committed_at, pr_number
		FROM mainline_commits
		WHERE repository_id = ?
		ORDER BY committed_at DESC, sha
	`)
	if err := db.conn.SelectContext(ctx, &rows, query, repoID); err != nil {
		return nil, fmt.Errorf("failed to get commits for repository %d: %w", repoID, err)
	}

	commits := make([]models.MainlineCommit, 0, len(rows))
	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// GetYoloCoders groups the commits pushed without a pull request since the
// given instant by author, most commits first.
func (db *DB) GetYoloCoders(ctx context.Context, owner, name string, since time.Time) ([]models.YoloCoder, error) {
	if owner == "" || name == "" {
		return nil, fmt.Errorf("%w: repository name and owner cannot be empty", ErrInvalidInput)
	}

	var rows []yoloCommitRow
	query := db.conn.Rebind(`
		SELECT c.author AS author, c.sha AS sha
		FROM mainline_commits c
		JOIN repositories r ON c.repository_id = r.id
		WHERE r.owner = ? AND r.name = ?
			AND c.pr_number IS NULL
			AND c.author IS NOT NULL
			AND c.committed_at >= ?
		ORDER BY c.committed_at DESC, c.sha
	`)
	if err := db.conn.SelectContext(ctx, &rows, query, owner, name, formatTime(since)); err != nil {
		return nil, fmt.Errorf("failed to get direct commits for %s/%s: %w", owner, name, err)
	}

	byAuthor := make(map[string]*models.YoloCoder)
	coders := []*models.YoloCoder{}
	for _, row := range rows {
		coder, ok := byAuthor[row.Author]
		if !ok {
			coder = &models.YoloCoder{Author: row.Author, SHAs: []string{}}
			byAuthor[row.Author] = coder
			coders = append(coders, coder)
		}
		coder.CommitCount++
		coder.SHAs = append(coder.SHAs, row.SHA)
	}

	sort.SliceStable(coders, func(i, j int) bool {
		if coders[i].CommitCount != coders[j].CommitCount {
			return coders[i].CommitCount > coders[j].CommitCount
		}
		return coders[i].Author < coders[j].Author
	})

	result := make([]models.YoloCoder, 0, len(coders))
	for _, coder := range coders {
		result = append(result, *coder)
	}
	return result, nil
}
