package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/template"
)

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default categories and rules in an empty store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := c.app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			seeded, err := categorizer.Seed(ctx, store, c.logger)
			if err != nil {
				return err
			}
			if seeded {
				fmt.Fprintln(cmd.OutOrStdout(), "seeded default categories and rules")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "store already has categories, nothing to seed")
			}
			return nil
		},
	}
}

func (c *cli) providerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "provider",
		Aliases: []string{"providers"},
		Short:   "Manage email providers and their templates",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStore(cmd.Context(), func(store api.Store) error {
				providers, err := store.ListProviders(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tQUERY")
				for _, p := range providers {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", p.ID, p.Name, p.Template.GmailQuery)
				}
				return tw.Flush()
			})
		},
	}

	var builtins bool
	add := &cobra.Command{
		Use:   "add [FILE]",
		Short: "Add or replace a provider from a YAML or JSON document",
		Args: func(cmd *cobra.Command, args []string) error {
			if builtins {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var providers []api.Provider
			if builtins {
				var err error
				if providers, err = template.Builtins(); err != nil {
					return err
				}
			} else {
				p, err := readProvider(args[0])
				if err != nil {
					return err
				}
				providers = []api.Provider{p}
			}

			return c.withStore(cmd.Context(), func(store api.Store) error {
				for _, p := range providers {
					saved, err := saveProvider(cmd.Context(), store, p)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "saved provider %q (id %d)\n", saved.Name, saved.ID)
				}
				return nil
			})
		},
	}
	add.Flags().BoolVar(&builtins, "builtins", false, "add the bundled provider templates")

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a provider by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(store api.Store) error {
				providers, err := store.ListProviders(cmd.Context())
				if err != nil {
					return err
				}
				for _, p := range providers {
					if strings.EqualFold(p.Name, args[0]) {
						if err := store.DeleteProvider(cmd.Context(), p.ID); err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "deleted provider %q\n", p.Name)
						return nil
					}
				}
				return fmt.Errorf("provider %q: %w", args[0], api.ErrNotFound)
			})
		},
	}

	cmd.AddCommand(list, add, del)
	return cmd
}

func saveProvider(ctx context.Context, store api.ProviderStore, p api.Provider) (api.Provider, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return api.Provider{}, fmt.Errorf("provider name is required")
	}
	if err := template.Validate(p.Template); err != nil {
		return api.Provider{}, fmt.Errorf("provider %q: %w", p.Name, err)
	}
	return store.SaveProvider(ctx, p)
}

// withEngine opens the store and hands fn an initialized engine.
func (c *cli) withEngine(ctx context.Context, fn func(*categorizer.Engine) error) error {
	return c.withStore(ctx, func(store api.Store) error {
		engine := categorizer.New(store, c.logger)
		if err := engine.Init(ctx); err != nil {
			return err
		}
		return fn(engine)
	})
}

func (c *cli) rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Manage categorization rules",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List rules in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd.Context(), func(engine *categorizer.Engine) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKEYWORD\tCATEGORY\tMATCH\tSOURCE")
				for _, r := range engine.Rules() {
					source := "global"
					if r.IsUserCreated {
						source = "user"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Keyword, r.CategoryName, r.MatchType, source)
				}
				return tw.Flush()
			})
		},
	}

	var addMatch string
	add := &cobra.Command{
		Use:   "add KEYWORD CATEGORY",
		Short: "Add a user rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(engine *categorizer.Engine) error {
				r, err := engine.AddRule(cmd.Context(), api.Rule{
					Keyword:      args[0],
					CategoryName: args[1],
					MatchType:    api.MatchType(addMatch),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added rule %d: %s -> %s\n", r.ID, r.Keyword, r.CategoryName)
				return nil
			})
		},
	}
	add.Flags().StringVar(&addMatch, "match", string(api.MatchContains), "match type: contains, exact or starts_with")

	var editMatch string
	edit := &cobra.Command{
		Use:   "edit ID KEYWORD CATEGORY",
		Short: "Edit a user rule",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(engine *categorizer.Engine) error {
				r, err := engine.EditRule(cmd.Context(), api.Rule{
					ID:           id,
					Keyword:      args[1],
					CategoryName: args[2],
					MatchType:    api.MatchType(editMatch),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated rule %d: %s -> %s\n", r.ID, r.Keyword, r.CategoryName)
				return nil
			})
		},
	}
	edit.Flags().StringVar(&editMatch, "match", string(api.MatchContains), "match type: contains, exact or starts_with")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a user rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(engine *categorizer.Engine) error {
				if err := engine.DeleteRule(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted rule %d\n", id)
				return nil
			})
		},
	}

	learn := &cobra.Command{
		Use:   "learn MERCHANT CATEGORY",
		Short: "Add a rule from the first words of a merchant name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(engine *categorizer.Engine) error {
				r, err := engine.Learn(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added rule %d: %s -> %s\n", r.ID, r.Keyword, r.CategoryName)
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, edit, del, learn)
	return cmd
}

func parseRuleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", s)
	}
	return id, nil
}

func (c *cli) categorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categorize MERCHANT",
		Short: "Print the category a merchant name resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(engine *categorizer.Engine) error {
				fmt.Fprintln(cmd.OutOrStdout(), engine.Categorize(strings.Join(args, " ")))
				return nil
			})
		},
	}
}
