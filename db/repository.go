package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"lotteryfactor/logger"
	"lotteryfactor/models"
)

// GetOrCreateRepositoryID returns the durable id of owner/name, creating it
// on first sight. The insert is conflict-tolerant so concurrent or repeated
// calls never create a second row.
func (db *DB) GetOrCreateRepositoryID(ctx context.Context, owner, name string) (int64, error) {
	if owner == "" || name == "" {
		return 0, fmt.Errorf("%w: repository name and owner cannot be empty", ErrInvalidInput)
	}

	insert := db.conn.Rebind(`
		INSERT INTO repositories (owner, name)
		VALUES (?, ?)
		ON CONFLICT (owner, name) DO NOTHING
	`)
	if _, err := db.conn.ExecContext(ctx, insert, owner, name); err != nil {
		return 0, fmt.Errorf("failed to store repository %s/%s: %w", owner, name, err)
	}

	var id int64
	query := db.conn.Rebind(`SELECT id FROM repositories WHERE owner = ? AND name = ?`)
	if err := db.conn.GetContext(ctx, &id, query, owner, name); err != nil {
		return 0, fmt.Errorf("failed to resolve repository %s/%s: %w", owner, name, err)
	}

	logger.Debug("Resolved repository",
		zap.String("owner", owner),
		zap.String("name", name),
		zap.Int64("repository_id", id))
	return id, nil
}

// GetRepository looks up owner/name without creating it.
func (db *DB) GetRepository(ctx context.Context, owner, name string) (mo.Option[*models.Repository], error) {
	if owner == "" || name == "" {
		return mo.None[*models.Repository](), fmt.Errorf("%w: repository name and owner cannot be empty", ErrInvalidInput)
	}

	var repo models.Repository
	query := db.conn.Rebind(`SELECT id, owner, name FROM repositories WHERE owner = ? AND name = ?`)
	if err := db.conn.GetContext(ctx, &repo, query, owner, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mo.None[*models.Repository](), nil
		}
		return mo.None[*models.Repository](), fmt.Errorf("failed to get repository %s/%s: %w", owner, name, err)
	}

	return mo.Some(&repo), nil
}

// ListRepositories returns every repository the store has seen.
func (db *DB) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	repos := []models.Repository{}
	if err := db.conn.SelectContext(ctx, &repos, `SELECT id, owner, name FROM repositories ORDER BY owner, name`); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}
