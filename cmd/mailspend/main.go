// Command mailspend turns bank and wallet notification emails into categorized transactions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailspend/internal/app"
	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/config"
	"github.com/ArionMiles/mailspend/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	envFile string
	app     *app.App
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "mailspend",
		Short: "Track spending from transaction notification emails",
		Long: `mailspend reads bank and wallet notification emails, extracts the merchant
and amount with per-provider templates, categorizes each transaction with
keyword rules and stores the result.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
	}

	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(
		c.runCmd(),
		c.syncCmd(),
		c.serveCmd(),
		c.seedCmd(),
		c.setupCmd(),
		c.statusCmd(),
		c.templateCmd(),
		c.providerCmd(),
		c.rulesCmd(),
		c.categorizeCmd(),
		c.txCmd(),
		c.exportCmd(),
		c.reportCmd(),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c.logger = logging.Setup(cfg.Logging())

	c.app, err = app.New(cfg, c.logger)
	if err != nil {
		return err
	}

	c.logger.Debug("configuration loaded",
		"store", cfg.Store,
		"transport", cfg.Transport,
		"writer", cfg.Writer,
	)
	return nil
}

// withStore opens the configured store, seeding it when empty, and closes it
// once fn returns.
func (c *cli) withStore(ctx context.Context, fn func(api.Store) error) error {
	store, err := c.app.OpenSeededStore(ctx)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", c.app.Config.Store, err)
	}
	defer store.Close()
	return fn(store)
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
