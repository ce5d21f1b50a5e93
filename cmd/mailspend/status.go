package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailspend/pkg/client"
)

const statusTimeout = 10 * time.Second

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, authorization and store connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.runStatus(cmd.Context(), cmd.OutOrStdout()) {
				return errors.New("configuration issues detected")
			}
			return nil
		},
	}
}

// runStatus prints one line per check and reports whether all passed.
func (c *cli) runStatus(ctx context.Context, out io.Writer) bool {
	cfg := c.app.Config
	allGood := true
	fail := func(format string, args ...any) {
		fmt.Fprintf(out, "✗ "+format+"\n", args...)
		allGood = false
	}

	fmt.Fprintln(out, "=== mailspend status ===")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Store: %s\nTransport: %s\n", cfg.Store, cfg.Transport)
	if cfg.Writer != "" {
		fmt.Fprintf(out, "Writer: %s\n", cfg.Writer)
	}
	fmt.Fprintln(out)

	scopes, err := c.app.Scopes()
	switch {
	case err != nil:
		fail("Plugins: %v", err)
	case len(scopes) > 0:
		c.checkOAuth(out, fail)
	default:
		fmt.Fprintln(out, "✓ OAuth: not required")
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	store, err := c.app.OpenStore(ctx)
	if err != nil {
		fail("Store (%s): %v", cfg.Store, err)
	} else {
		defer store.Close()

		cats, err := store.ListCategories(ctx)
		if err != nil {
			fail("Store (%s): %v", cfg.Store, err)
		} else {
			fmt.Fprintf(out, "✓ Store (%s): connected, %d categories\n", cfg.Store, len(cats))
		}

		providers, err := store.ListProviders(ctx)
		switch {
		case err != nil:
			fail("Providers: %v", err)
		case len(providers) == 0:
			fail("Providers: none configured (run 'mailspend provider add')")
		default:
			fmt.Fprintf(out, "✓ Providers: %d configured\n", len(providers))
		}
	}

	if cfg.Transport == "mbox" {
		if _, err := os.Stat(cfg.MboxPath); err != nil {
			fail("Mailbox (%s): %v", cfg.MboxPath, err)
		} else {
			fmt.Fprintf(out, "✓ Mailbox (%s): found\n", cfg.MboxPath)
		}
	}

	fmt.Fprintln(out)
	if allGood {
		fmt.Fprintln(out, "Status: ✓ Ready to run")
	} else {
		fmt.Fprintln(out, "Status: ✗ Configuration issues detected")
	}
	return allGood
}

func (c *cli) checkOAuth(out io.Writer, fail func(string, ...any)) {
	cfg := c.app.Config

	if _, err := os.Stat(cfg.ClientSecretFile); errors.Is(err, fs.ErrNotExist) {
		fail("Client secret (%s): not found", cfg.ClientSecretFile)
	} else {
		fmt.Fprintf(out, "✓ Client secret (%s): found\n", cfg.ClientSecretFile)
	}

	token, err := client.TokenFromFile(cfg.TokenFile)
	switch {
	case err != nil:
		fail("OAuth token (%s): not usable (run 'mailspend setup'): %v", cfg.TokenFile, err)
	case !token.Expiry.IsZero() && token.Expiry.Before(time.Now()):
		fmt.Fprintf(out, "⚠ OAuth token (%s): expired, will refresh on next run\n", cfg.TokenFile)
	default:
		fmt.Fprintf(out, "✓ OAuth token (%s): valid\n", cfg.TokenFile)
	}
}
