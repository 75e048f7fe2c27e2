package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/paperflow/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Start the HTTP server exposing paper submission, run status, the
resume endpoint and the chat webhook. Suspended runs are reloaded
from the state store, so the server can restart while papers wait
for a decision.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"listen address (default from config, host:port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	addr := serveAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", app.cfg.Server.Host, app.cfg.Server.Port)
	}

	timeout, err := time.ParseDuration(app.cfg.Server.RequestTimeout)
	if err != nil {
		timeout = 120 * time.Second
	}

	opts := []api.ServerOption{
		api.WithLogger(app.logger.Logger),
		api.WithRequestTimeout(timeout),
		api.WithCORSOrigins(app.cfg.Server.CORSOrigins),
		api.WithURLExtractor(app.analyst),
	}
	if app.bot != nil {
		opts = append(opts, api.WithChatBot(app.bot))
	}
	srv := api.NewServer(app.engine, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
