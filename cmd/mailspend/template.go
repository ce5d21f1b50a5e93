package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/extractor"
	"github.com/ArionMiles/mailspend/pkg/template"
)

func (c *cli) templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate and check provider templates",
	}
	cmd.AddCommand(c.templateGenerateCmd(), c.templateValidateCmd())
	return cmd
}

func (c *cli) templateGenerateCmd() *cobra.Command {
	var (
		blockFile, bodyFile string
		name, query         string
		subject, from       string
		showCandidates      bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Infer a provider template from a sample transaction block",
		Long: `Infer a provider template from a sample transaction block.

The block is the part of an email holding the merchant and amount, for example:

  Paid to: ACME CORP
  Amount: SGD 45.00

When --body names the full email, body markers are derived from the lines
around the block. The provider document is printed as YAML, ready for
'mailspend provider add'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			block, err := os.ReadFile(blockFile)
			if err != nil {
				return fmt.Errorf("reading block: %w", err)
			}
			var body []byte
			if bodyFile != "" {
				if body, err = os.ReadFile(bodyFile); err != nil {
					return fmt.Errorf("reading body: %w", err)
				}
			}
			if query == "" {
				query = template.BuildQuery(subject, from)
			}

			cfg, err := template.GenerateTemplate(string(block), string(body), query)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# merchant: %s\n# amount: %s %s\n", cfg.Merchant, cfg.Currency, cfg.Amount)
			for _, h := range cfg.Hints {
				fmt.Fprintf(out, "# hint: %s\n", h)
			}
			if showCandidates {
				for _, cand := range template.Candidates(string(block)) {
					fmt.Fprintf(out, "# candidate %s %q: %s  %s\n", cand.Field, cand.Anchor, cand.Value, cand.Regex)
				}
			}

			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(api.Provider{Name: name, Template: cfg.Template}); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().StringVar(&blockFile, "block", "", "file holding the sample transaction block")
	cmd.Flags().StringVar(&bodyFile, "body", "", "file holding the full email body")
	cmd.Flags().StringVar(&name, "name", "", "provider name")
	cmd.Flags().StringVar(&query, "query", "", "Gmail search query")
	cmd.Flags().StringVar(&subject, "subject", "", "subject used to build the query when --query is unset")
	cmd.Flags().StringVar(&from, "from", "", "sender used to build the query when --query is unset")
	cmd.Flags().BoolVar(&showCandidates, "candidates", false, "list every anchor match in the block")
	_ = cmd.MarkFlagRequired("block")
	return cmd
}

func (c *cli) templateValidateCmd() *cobra.Command {
	var bodyFile string

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a provider or template document, optionally against an email body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProvider(args[0])
			if err != nil {
				return err
			}
			if err := template.Validate(p.Template); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ template is valid")

			if bodyFile == "" {
				return nil
			}
			body, err := os.ReadFile(bodyFile)
			if err != nil {
				return fmt.Errorf("reading body: %w", err)
			}

			res := extractor.New(c.logger).Extract(string(body), p.Template)
			amount := "-"
			if res.Amount != nil {
				amount = *res.Amount
			}
			fmt.Fprintf(out, "merchant: %s\ncurrency: %s\namount: %s\n", res.Merchant, res.Currency, amount)
			return nil
		},
	}
	cmd.Flags().StringVar(&bodyFile, "body", "", "email body to extract from")
	return cmd
}

// readProvider parses a YAML or JSON provider document. A bare template
// document yields a provider with only the template set.
func readProvider(path string) (api.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.Provider{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var p api.Provider
	if err := yaml.Unmarshal(data, &p); err != nil {
		return api.Provider{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if p.Template == (api.Template{}) {
		if err := yaml.Unmarshal(data, &p.Template); err != nil {
			return api.Provider{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if p.Template == (api.Template{}) {
		return api.Provider{}, errors.New(path + ": no template found")
	}
	return p, nil
}
