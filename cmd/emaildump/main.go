// Command emaildump saves the messages matching each provider's query, for
// use as test fixtures or as an mbox for offline imports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
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

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		format   string
		out      string
		limit    int
		provider string
	)

	cmd := &cobra.Command{
		Use:          "emaildump",
		Short:        "Dump the messages matching each provider's query",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := logging.Setup(cfg.Logging())

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			providers, err := loadProviders(ctx, a, provider)
			if err != nil {
				return err
			}

			transport, err := a.Transport(ctx)
			if err != nil {
				return err
			}

			var s sink
			switch format {
			case "mbox":
				if out == "" {
					out = "testdata/dump/dump.mbox"
				}
				s, err = newMboxSink(out)
			case "text":
				if out == "" {
					out = "testdata/dump"
				}
				s, err = newDirSink(out, logger)
			default:
				return fmt.Errorf("--format must be mbox or text, got %q", format)
			}
			if err != nil {
				return err
			}

			total, err := dump(ctx, transport, providers, s, limit, logger)
			if cerr := s.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			logger.Info("email dump complete", "total_dumped", total, "output", out)
			fmt.Fprintf(cmd.OutOrStdout(), "dumped %d messages to %s\n", total, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	cmd.Flags().StringVar(&format, "format", "mbox", "output format: mbox or text")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output mbox file or directory")
	cmd.Flags().IntVar(&limit, "max", 10, "maximum messages per provider (0 means all)")
	cmd.Flags().StringVar(&provider, "provider", "", "only dump this provider")
	return cmd
}

func loadProviders(ctx context.Context, a *app.App, only string) ([]api.Provider, error) {
	store, err := a.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.Config.Store, err)
	}
	defer store.Close()

	providers, err := store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	if only == "" {
		return providers, nil
	}
	for _, p := range providers {
		if strings.EqualFold(p.Name, only) {
			return []api.Provider{p}, nil
		}
	}
	return nil, fmt.Errorf("provider %q: %w", only, api.ErrNotFound)
}
