package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ArionMiles/mailspend/internal/daemon"
	"github.com/ArionMiles/mailspend/internal/server"
	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/orchestrator"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync on SYNC_INTERVAL until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(c.logger)
			defer cancel()

			return c.withStore(ctx, func(store api.Store) error {
				orch, err := c.app.Orchestrator(ctx, store, categorizer.New(store, c.logger))
				if err != nil {
					return err
				}

				runner := daemon.New(orch, daemon.Config{Interval: c.app.Config.Sync.Interval}, c.logger.With("component", "daemon"))
				return runner.Run(ctx)
			})
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(c.logger)
			defer cancel()

			return c.withStore(ctx, func(store api.Store) error {
				orch, err := c.app.Orchestrator(ctx, store, categorizer.New(store, c.logger))
				if err != nil {
					return err
				}

				res, err := orch.Sync(ctx)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func printResult(w io.Writer, res *orchestrator.Result) {
	for _, t := range res.Transactions {
		fmt.Fprintf(w, "+ %s  %-30s %10.2f %s  %s\n", t.Date.Format(time.DateOnly), t.Merchant, t.Amount, t.Currency, t.Category)
	}
	for _, it := range res.Items {
		if it.Status == orchestrator.StatusFailed {
			fmt.Fprintf(w, "! %s: %v\n", it.ID, it.Error)
		}
	}
	fmt.Fprintf(w, "synced %d, skipped %d, failed %d\n", res.Synced(), res.Skipped(), res.Failed())
}

func (c *cli) serveCmd() *cobra.Command {
	var (
		addr      string
		runDaemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.app.Config.HTTPAddr
			}

			ctx, cancel := signalContext(c.logger)
			defer cancel()

			return c.withStore(ctx, func(store api.Store) error {
				engine := categorizer.New(store, c.logger)
				if err := engine.Init(ctx); err != nil {
					return err
				}

				// POST /api/sync answers 503 when the transport cannot be built.
				var syncer server.Syncer
				orch, err := c.app.Orchestrator(ctx, store, engine)
				if err != nil {
					c.logger.Warn("sync disabled", "error", err)
				} else {
					syncer = orch
				}

				srv := server.New(store, engine, syncer, c.logger)

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return srv.Listen(addr)
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if runDaemon && orch != nil {
					runner := daemon.New(orch, daemon.Config{Interval: c.app.Config.Sync.Interval}, c.logger.With("component", "daemon"))
					g.Go(func() error {
						return runner.Run(gctx)
					})
				}

				if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	cmd.Flags().BoolVar(&runDaemon, "daemon", false, "also sync on SYNC_INTERVAL in the background")
	return cmd
}
