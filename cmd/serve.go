package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/api"
	"github.com/sells-group/vicmaps/internal/app"
	"github.com/sells-group/vicmaps/internal/config"
	"github.com/sells-group/vicmaps/pkg/anthropic"
)

var servePort int

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		srv, err := newHTTPServer(ctx, cfg)
		if err != nil {
			return err
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newHTTPServer loads the datasets and wires the API.
func newHTTPServer(ctx context.Context, c *config.Config) (*http.Server, error) {
	appCtx, err := app.Load(ctx, app.PathsFromConfig(c))
	if err != nil {
		return nil, err
	}

	opts := []api.Option{api.WithDefaultRadius(c.Query.DefaultRadiusKm)}
	if c.Anthropic.Key != "" {
		captioner := anthropic.NewCaptioner(
			anthropic.NewClient(c.Anthropic.Key),
			c.Anthropic.Model,
			c.Anthropic.MaxTokens,
			anthropic.WithRequestsPerMinute(c.Anthropic.RequestsPerMinute),
		)
		opts = append(opts, api.WithCaptioner(captioner))
	} else {
		zap.L().Info("anthropic key not set, /api/analyze disabled")
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Server.Port),
		Handler:           api.NewServer(appCtx, opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
