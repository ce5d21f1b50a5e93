package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailspend/pkg/client"
)

func (c *cli) setupCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Authorize mailspend with Google",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runSetup(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-authenticate even when a token exists")
	return cmd
}

func (c *cli) runSetup(cmd *cobra.Command, force bool) error {
	out := cmd.OutOrStdout()
	cfg := c.app.Config

	fmt.Fprintln(out, "=== mailspend setup ===")
	fmt.Fprintln(out)

	scopes, err := c.app.Scopes()
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		fmt.Fprintf(out, "Transport %q and writer %q need no Google authorization.\n", cfg.Transport, cfg.Writer)
		return nil
	}

	if _, err := os.Stat(cfg.ClientSecretFile); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("client secret file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", cfg.ClientSecretFile, cfg.ClientSecretFile)
	}

	opts := client.Options{
		SecretFile:  cfg.ClientSecretFile,
		TokenFile:   cfg.TokenFile,
		Scopes:      scopes,
		Interactive: true,
	}

	if !force && client.HasToken(opts) {
		fmt.Fprintf(out, "Already authenticated. Token file exists: %s\n\n", cfg.TokenFile)
		fmt.Fprintln(out, "To re-authenticate, run: mailspend setup --force")
		return nil
	}

	fmt.Fprintln(out, "Requested permissions:")
	for _, s := range scopes {
		fmt.Fprintf(out, "  - %s\n", strings.TrimPrefix(s, "https://www.googleapis.com/auth/"))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Starting authentication...")

	if err := client.Authorize(cmd.Context(), opts, c.logger); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Setup complete ===")
	fmt.Fprintf(out, "Token saved to: %s\n\n", cfg.TokenFile)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Add providers with 'mailspend provider add' or 'mailspend provider add --builtins'")
	fmt.Fprintln(out, "  2. Run 'mailspend run' to start syncing")
	return nil
}
