package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kit-dsn/pfennigfuchs/internal/config"
)

const shutdownTimeout = 10 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync continuously and serve the query API",
		Long: `Run the sync loop until interrupted.

Configuration is read from the environment (a .env file is honoured).
The query API is served on SERVER_PORT when API_JWT_SECRET is set.

Example:
  pfsync run
  pfsync run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLoop(ctx, rootOpts)
		},
	}
	return cmd
}

func runLoop(ctx context.Context, opts *RootOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.driver.Run(ctx, cfg.SyncInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.forwardChanges(ctx)
		return nil
	})

	if cfg.APIEnabled() {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
			Handler:           a.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info().Str("port", cfg.ServerPort).Msg("starting query API")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		// graceful shutdown
		g.Go(func() error {
			<-ctx.Done()
			a.logger.Info().Msg("shutting down query API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	} else {
		a.logger.Warn().Msg("API_JWT_SECRET not set, query API disabled")
	}

	err = g.Wait()
	a.logger.Info().Str("cursor", a.driver.Cursor()).Msg("sync stopped")
	return err
}
