package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotteryfactor/db"
	"lotteryfactor/github"
	"lotteryfactor/models"
)

func TestContainerServesHealth(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", ":memory:")
	t.Setenv("LOG_LEVEL", "error")

	container, err := newContainer(context.Background())
	require.NoError(t, err)

	err = container.Invoke(func(database *db.DB, router http.Handler) {
		defer database.Close()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	require.NoError(t, err)
}

func TestGitHubClientRequiresToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DB_DSN", ":memory:")

	container, err := newContainer(context.Background())
	require.NoError(t, err)

	err = unwrapDigError(container.Invoke(func(*github.Client) {}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")
}

func TestReportRejectsMalformedRepository(t *testing.T) {
	rootCmd.SetArgs([]string{"report", "not-a-repo"})
	err := rootCmd.Execute()

	var formatErr *models.ErrInvalidRepoFormat
	assert.ErrorAs(t, err, &formatErr)
}
