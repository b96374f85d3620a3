package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"lotteryfactor/config"
	"lotteryfactor/db"
	"lotteryfactor/logger"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve cached reports over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		container, err := newContainer(ctx)
		if err != nil {
			return err
		}

		return unwrapDigError(container.Invoke(func(cfg *config.Config, database *db.DB, router http.Handler) error {
			defer database.Close()

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("API listening", zap.String("addr", cfg.ListenAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}))
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	if err := viper.BindPFlag("LISTEN_ADDR", serveCmd.Flags().Lookup("listen")); err != nil {
		panic(fmt.Sprintf("failed to bind flag listen: %v", err))
	}
}
