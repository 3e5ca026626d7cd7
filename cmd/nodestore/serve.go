package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nodestore/internal/auth"
	"nodestore/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (c *cli) newServeCmd() *cobra.Command {
	var maxNodeSize int64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the node API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), maxNodeSize)
		},
	}

	cmd.Flags().Int64Var(&maxNodeSize, "max-node-size", server.DefaultMaxNodeSize, "largest accepted node payload in bytes")
	return cmd
}

func (c *cli) serve(ctx context.Context, maxNodeSize int64) error {
	a, err := openApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []server.Option{server.WithMaxNodeSize(maxNodeSize)}
	if c.cfg.Server.Username != "" {
		engine, err := auth.NewBasicAuthEngine(c.cfg.Server.Username, c.cfg.Server.Password)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithAuth(engine))
	}

	srv, err := server.New(a.backend, opts...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              c.cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 20*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting nodestore HTTP server", "listen", c.cfg.Server.Listen, "version", version)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}
