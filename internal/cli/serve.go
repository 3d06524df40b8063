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

	"github.com/okian/cgmrisk/internal/adapters/http/api"
	"github.com/okian/cgmrisk/internal/adapters/http/swagger"
	"github.com/okian/cgmrisk/internal/app"
	"github.com/okian/cgmrisk/pkg/logger"
)

// HTTP server timeouts.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second // covers the remote explainer round trip
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve spike predictions over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getConfig()
		if serveAddr != "" {
			c.Addr = serveAddr
		}
		log := logger.Get()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc := app.New(c, app.WithLogger(log.Named("service")))
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		defer svc.Stop()

		mux := http.NewServeMux()
		swagger.Register(mux)
		api.NewServer(svc, svc).Register(mux)

		srv := &http.Server{
			Addr:              c.Addr,
			Handler:           mux,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info(ctx, "starting HTTP server", logger.String("addr", c.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		case <-ctx.Done():
		}
		log.Info(ctx, "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		log.Info(ctx, "server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to config addr)")
}
