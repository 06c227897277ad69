package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imagesearch/internal/handlers"
	"imagesearch/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		hub := ws.NewHub(log)
		go hub.Run()
		defer hub.Shutdown()

		srv := &http.Server{
			Addr:    cfg.Server.Listen,
			Handler: handlers.New(a.gal, hub, log).Routes(),
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("server starting", "addr", cfg.Server.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-quit:
			log.Info("shutting down", "signal", sig.String())
		case <-ctx.Done():
			log.Info("shutting down", "reason", "context cancelled")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
