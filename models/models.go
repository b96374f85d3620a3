// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// UnknownAuthor stands in for a pull request whose author account no longer exists.
const UnknownAuthor = "unknown"

// Repository is the durable identity of an owner/name pair.
type Repository struct {
	ID    int64  `db:"id" json:"id"`
	Owner string `db:"owner" json:"owner"`
	Name  string `db:"name" json:"name"`
}

// PullRequest is a merged pull request of a repository.
type PullRequest struct {
	Number   int
	Title    string
	Author   string
	MergedAt mo.Option[time.Time]
}

// MainlineCommit is a commit reachable from the default branch. PRNumber is
// None when the commit was pushed without a pull request.
type MainlineCommit struct {
	SHA         string
	Author      string
	CommittedAt time.Time
	PRNumber    mo.Option[int]
}

// Contributor represents pull request statistics for a specific author.
type Contributor struct {
	Author  string `db:"author" json:"author"`
	PRCount int    `db:"pr_count" json:"pr_count"`
}

// YoloCoder is an author who pushed straight to the default branch.
type YoloCoder struct {
	Author      string   `json:"author"`
	CommitCount int      `json:"commit_count"`
	SHAs        []string `json:"shas"`
}

// ErrInvalidRepoFormat is returned when a repository argument is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

func (r RepoIdentifier) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoIdentifier splits "owner/name".
func ParseRepoIdentifier(s string) (RepoIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoIdentifier{}, &ErrInvalidRepoFormat{Repo: s}
	}
	return RepoIdentifier{Owner: parts[0], Name: parts[1]}, nil
}

// Window returns the oldest instant a lookback of days covers: midnight UTC,
// days before the current day.
func Window(now time.Time, days int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
