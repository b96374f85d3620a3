package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"lotteryfactor/config"
	"lotteryfactor/db"
	"lotteryfactor/logger"
	"lotteryfactor/models"
	"lotteryfactor/report"
	"lotteryfactor/service"
)

var errSyncIncomplete = errors.New("sync did not complete, report skipped")

var reportCmd = &cobra.Command{
	Use:   "report <owner/name>",
	Short: "Sync a repository and print its lottery factor report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := models.ParseRepoIdentifier(args[0])
		if err != nil {
			return err
		}

		container, err := newContainer(cmd.Context())
		if err != nil {
			return err
		}

		return unwrapDigError(container.Invoke(func(cfg *config.Config, database *db.DB, syncer *service.Syncer, builder *report.Builder) error {
			defer database.Close()
			ctx := cmd.Context()

			ok, err := syncer.Sync(ctx, repo.Owner, repo.Name, cfg.Days)
			if err != nil {
				return fmt.Errorf("sync of %s failed: %w", repo, err)
			}
			if !ok {
				logger.Error("Sync incomplete", zap.String("repository", repo.String()))
				return errSyncIncomplete
			}

			r, err := builder.Build(ctx, repo.Owner, repo.Name, cfg.Days)
			if err != nil {
				return fmt.Errorf("failed to build report for %s: %w", repo, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}))
	},
}

// unwrapDigError strips dig's wrapping so provider errors read cleanly.
func unwrapDigError(err error) error {
	if err == nil {
		return nil
	}
	return dig.RootCause(err)
}
