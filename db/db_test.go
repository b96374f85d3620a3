package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotteryfactor/config"
	"lotteryfactor/models"
)

// setupTestDB opens a migrated in-memory SQLite store
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(context.Background(), &config.Config{
		DBDriver: config.DriverSQLite,
		DBDSN:    ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

// setupMockDB creates a new test database connection with a mock
func setupMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &DB{conn: sqlx.NewDb(conn, "sqlmock"), driver: config.DriverSQLite}, mock
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func pr(number int, author string, mergedAt time.Time) models.PullRequest {
	return models.PullRequest{
		Number:   number,
		Title:    "change",
		Author:   author,
		MergedAt: mo.Some(mergedAt),
	}
}

func TestGetOrCreateRepositoryID(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	first, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)
	again, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)
	other, err := database.GetOrCreateRepositoryID(ctx, "acme", "gadgets")
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)

	repos, err := database.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 2)
	assert.Equal(t, "gadgets", repos[0].Name)

	_, err = database.GetOrCreateRepositoryID(ctx, "", "widgets")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetRepository(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	missing, err := database.GetRepository(ctx, "acme", "widgets")
	require.NoError(t, err)
	assert.True(t, missing.IsAbsent())

	id, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)

	found, err := database.GetRepository(ctx, "acme", "widgets")
	require.NoError(t, err)
	repo, ok := found.Get()
	require.True(t, ok)
	assert.Equal(t, id, repo.ID)
}

func TestUpsertPullRequests(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	repoID, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)

	page := []models.PullRequest{pr(1, "alice", day(2024, 6, 1)), pr(2, "", day(2024, 6, 2))}
	require.NoError(t, database.UpsertPullRequests(ctx, repoID, page))
	// the same page applied twice changes nothing
	require.NoError(t, database.UpsertPullRequests(ctx, repoID, page))

	renamed := pr(1, "alice", day(2024, 6, 1))
	renamed.Title = "renamed"
	require.NoError(t, database.UpsertPullRequests(ctx, repoID, []models.PullRequest{renamed}))

	prs, err := database.GetPullRequests(ctx, repoID)
	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, "renamed", prs[0].Title)
	assert.Equal(t, models.UnknownAuthor, prs[1].Author)

	assert.NoError(t, database.UpsertPullRequests(ctx, repoID, nil))
	assert.ErrorIs(t, database.UpsertPullRequests(ctx, 0, page), ErrInvalidInput)
}

func TestOldestMergedAt(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	repoID, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)

	oldest, err := database.OldestMergedAt(ctx, repoID)
	require.NoError(t, err)
	assert.True(t, oldest.IsAbsent())

	require.NoError(t, database.UpsertPullRequests(ctx, repoID, []models.PullRequest{
		pr(3, "alice", day(2024, 6, 3)),
		pr(1, "bob", day(2024, 4, 20)),
		pr(2, "alice", day(2024, 5, 9)),
	}))

	oldest, err = database.OldestMergedAt(ctx, repoID)
	require.NoError(t, err)
	got, ok := oldest.Get()
	require.True(t, ok)
	assert.True(t, day(2024, 4, 20).Equal(got))
}

func TestUpsertMainlineCommits(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	repoID, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)

	// pull request pass already stored #7 with its real title
	require.NoError(t, database.UpsertPullRequests(ctx, repoID, []models.PullRequest{pr(7, "alice", day(2024, 6, 1))}))

	linked := []models.PullRequest{
		{Number: 7, Title: "from commit", Author: "alice", MergedAt: mo.Some(day(2024, 6, 1))},
		{Number: 8, Title: "only seen through a commit", Author: "", MergedAt: mo.Some(day(2024, 6, 2))},
	}
	commits := []models.MainlineCommit{
		{SHA: "aaa", Author: "alice", CommittedAt: day(2024, 6, 1), PRNumber: mo.Some(7)},
		{SHA: "bbb", Author: "bob", CommittedAt: day(2024, 6, 2), PRNumber: mo.Some(8)},
		{SHA: "ccc", Author: "carol", CommittedAt: day(2024, 6, 3), PRNumber: mo.None[int]()},
	}
	require.NoError(t, database.UpsertMainlineCommits(ctx, repoID, commits, linked))
	require.NoError(t, database.UpsertMainlineCommits(ctx, repoID, commits, linked))

	stored, err := database.GetMainlineCommits(ctx, repoID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "ccc", stored[0].SHA)
	assert.True(t, stored[0].PRNumber.IsAbsent())

	prs, err := database.GetPullRequests(ctx, repoID)
	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, "change", prs[0].Title, "existing pull request must not be overwritten")
	assert.Equal(t, models.UnknownAuthor, prs[1].Author)

	err = database.UpsertMainlineCommits(ctx, repoID, []models.MainlineCommit{{SHA: "ddd", CommittedAt: day(2024, 6, 4)}}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetContributors(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	repoID, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)
	otherID, err := database.GetOrCreateRepositoryID(ctx, "acme", "gadgets")
	require.NoError(t, err)

	var page []models.PullRequest
	for i := 1; i <= 10; i++ {
		author := "alice"
		if i > 6 {
			author = "bob"
		}
		page = append(page, pr(i, author, day(2024, 6, i)))
	}
	require.NoError(t, database.UpsertPullRequests(ctx, repoID, page))
	require.NoError(t, database.UpsertPullRequests(ctx, otherID, []models.PullRequest{pr(1, "mallory", day(2024, 6, 1))}))

	contributors, err := database.GetContributors(ctx, "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, []models.Contributor{
		{Author: "alice", PRCount: 6},
		{Author: "bob", PRCount: 4},
	}, contributors)

	none, err := database.GetContributors(ctx, "acme", "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetYoloCoders(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	repoID, err := database.GetOrCreateRepositoryID(ctx, "acme", "widgets")
	require.NoError(t, err)

	require.NoError(t, database.UpsertMainlineCommits(ctx, repoID,
		[]models.MainlineCommit{
			{SHA: "old", Author: "carol", CommittedAt: day(2024, 4, 1), PRNumber: mo.None[int]()},
			{SHA: "c1", Author: "carol", CommittedAt: day(2024, 6, 1), PRNumber: mo.None[int]()},
			{SHA: "c2", Author: "carol", CommittedAt: day(2024, 6, 2), PRNumber: mo.None[int]()},
			{SHA: "d1", Author: "dave", CommittedAt: day(2024, 6, 3), PRNumber: mo.None[int]()},
			{SHA: "m1", Author: "alice", CommittedAt: day(2024, 6, 4), PRNumber: mo.Some(9)},
		},
		[]models.PullRequest{pr(9, "alice", day(2024, 6, 4))},
	))

	coders, err := database.GetYoloCoders(ctx, "acme", "widgets", time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []models.YoloCoder{
		{Author: "carol", CommitCount: 2, SHAs: []string{"c2", "c1"}},
		{Author: "dave", CommitCount: 1, SHAs: []string{"d1"}},
	}, coders)
}

func TestMigrateIsRepeatable(t *testing.T) {
	database := setupTestDB(t)
	assert.NoError(t, database.Migrate(context.Background()))
}

func TestUpsertPullRequestsErrors(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "begin fails",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
			},
			expectedErr: ErrTransactionFailed,
		},
		{
			name: "write fails and rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO pull_requests").
					ExpectExec().
					WithArgs(int64(1), sqlmock.AnyArg(), "change", "alice", sqlmock.AnyArg()).
					WillReturnError(errors.New("constraint failed"))
				mock.ExpectRollback()
			},
		},
		{
			name: "commit fails",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO pull_requests").
					ExpectExec().
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))
			},
			expectedErr: ErrTransactionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, mock := setupMockDB(t)
			tt.mockSetup(mock)

			err := database.UpsertPullRequests(context.Background(), 1, []models.PullRequest{pr(1, "alice", day(2024, 6, 1))})

			require.Error(t, err)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpsertMainlineCommitsRollsBackLinkedPullRequests(t *testing.T) {
	database, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO pull_requests").
		ExpectExec().
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare("INSERT INTO mainline_commits").
		ExpectExec().
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := database.UpsertMainlineCommits(context.Background(), 1,
		[]models.MainlineCommit{{SHA: "aaa", Author: "alice", CommittedAt: day(2024, 6, 1), PRNumber: mo.Some(1)}},
		[]models.PullRequest{pr(1, "alice", day(2024, 6, 1))},
	)

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOldestMergedAtQueryError(t *testing.T) {
	database, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT MIN\\(merged_at\\)").
		WithArgs(int64(1)).
		WillReturnError(errors.New("no such table: pull_requests"))

	_, err := database.OldestMergedAt(context.Background(), 1)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
