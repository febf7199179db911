package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/docflow/pkg/docflow/api"
	"github.com/randalmurphal/docflow/pkg/docflow/event"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API over HTTP",
	Long: "Resumes runs left unfinished by a previous process, then serves the run API " +
		"until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, settings, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("shutdown", "error", err)
			}
		}()

		sub := a.orch.Events().Subscribe("", logRunEvent)
		defer sub.Unsubscribe()

		n, err := a.orch.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover runs: %w", err)
		}
		logger.Info("recovered runs", "count", n)

		addr := serveAddr
		if addr == "" {
			addr = settings.ServerAddr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewHandler(a.orch, logger, api.WithCORSOrigins(settings.CORSOrigins)).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	},
}

// logRunEvent logs status changes at info and everything else at debug.
func logRunEvent(ctx context.Context, evt event.Event) {
	attrs := []any{"run_id", evt.RunID, "type", evt.Type}
	if evt.Type == event.TypeCommitted && evt.From != evt.To {
		logger.InfoContext(ctx, "run status changed",
			append(attrs, "from", string(evt.From), "to", string(evt.To), "version", evt.Version)...)
		return
	}
	logger.DebugContext(ctx, "run event", append(attrs, "stage", evt.Stage.String())...)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
