package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/samber/mo"

	"lotteryfactor/models"
)

// Timestamps are stored as RFC3339 UTC text so MIN() and range filters
// compare the same way on every engine.
const timeLayout = time.RFC3339

type pullRequestRow struct {
	Number   int            `db:"pr_number"`
	Title    string         `db:"title"`
	Author   string         `db:"author"`
	MergedAt sql.NullString `db:"merged_at"`
}

type mainlineCommitRow struct {
	SHA         string         `db:"sha"`
	Author      sql.NullString `db:"author"`
	CommittedAt string         `db:"committed_at"`
	PRNumber    sql.NullInt64  `db:"pr_number"`
}

type yoloCommitRow struct {
	Author string `db:"author"`
	SHA    string `db:"sha"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(o mo.Option[time.Time]) sql.NullString {
	t, ok := o.Get()
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullableInt(o mo.Option[int]) sql.NullInt64 {
	n, ok := o.Get()
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func (r pullRequestRow) toModel() (models.PullRequest, error) {
	pr := models.PullRequest{
		Number:   r.Number,
		Title:    r.Title,
		Author:   r.Author,
		MergedAt: mo.None[time.Time](),
	}
	if r.MergedAt.Valid {
		t, err := parseTime(r.MergedAt.String)
		if err != nil {
			return models.PullRequest{}, err
		}
		pr.MergedAt = mo.Some(t)
	}
	return pr, nil
}

func (r mainlineCommitRow) toModel() (models.MainlineCommit, error) {
	committedAt, err := parseTime(r.CommittedAt)
	if err != nil {
		return models.MainlineCommit{}, err
	}
	c := models.MainlineCommit{
		SHA:         r.SHA,
		Author:      r.Author.String,
		CommittedAt: committedAt,
		PRNumber:    mo.None[int](),
	}
	if r.PRNumber.Valid {
		c.PRNumber = mo.Some(int(r.PRNumber.Int64))
	}
	return c, nil
}
