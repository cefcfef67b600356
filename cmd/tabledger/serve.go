package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabledger/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger UI and JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, m, closeStore, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if addr == "" {
				addr = a.cfg.Server.Addr()
			}
			server := web.NewServer(svc, web.Options{
				MaxUploadSize: int64(a.cfg.Ingest.MaxFileSize),
				Metrics:       m,
				ReadTimeout:   a.cfg.Server.ReadTimeout,
				WriteTimeout:  a.cfg.Server.WriteTimeout,
				IdleTimeout:   a.cfg.Server.IdleTimeout,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			// Let an in-flight write commit before connections are closed.
			if svc.Gate().Busy() {
				slog.Info("waiting for active write to complete")
				if err := svc.Gate().WaitForDrain(shutdownCtx); err != nil {
					slog.Warn("write did not complete in time", "error", err)
				}
			}

			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			slog.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (env SERVER_HOST, SERVER_PORT)")
	return cmd
}
