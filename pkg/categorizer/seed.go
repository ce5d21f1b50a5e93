package categorizer

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ArionMiles/mailspend/pkg/api"
)

//go:embed seed.yaml
var seedData []byte

// SeedStore is the persistence needed to seed default categories and rules.
type SeedStore interface {
	api.CategoryStore
	api.RuleStore
}

// Defaults holds the categories and global rules created on first run.
type Defaults struct {
	Categories []api.Category
	Rules      []api.Rule
}

type seedFile struct {
	Categories []api.Category      `yaml:"categories"`
	Rules      map[string][]string `yaml:"rules"`
}

// LoadDefaults parses the embedded seed data. Rules are returned grouped by
// category in category order.
func LoadDefaults() (Defaults, error) {
	var f seedFile
	if err := yaml.Unmarshal(seedData, &f); err != nil {
		return Defaults{}, fmt.Errorf("parsing seed data: %w", err)
	}

	d := Defaults{Categories: f.Categories}
	names := make([]string, 0, len(f.Rules))
	for name := range f.Rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, keyword := range f.Rules[name] {
			d.Rules = append(d.Rules, api.Rule{
				Keyword:      keyword,
				CategoryName: name,
				MatchType:    api.MatchContains,
			})
		}
	}
	return d, nil
}

// Seed creates the default categories and global rules when the store has no
// categories yet. It reports whether anything was written.
func Seed(ctx context.Context, store SeedStore, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := store.ListCategories(ctx)
	if err != nil {
		return false, fmt.Errorf("listing categories: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("store already seeded", "categories", len(existing))
		return false, nil
	}

	defaults, err := LoadDefaults()
	if err != nil {
		return false, err
	}

	for _, c := range defaults.Categories {
		if _, err := store.InsertCategory(ctx, c); err != nil {
			return false, fmt.Errorf("inserting category %q: %w", c.Name, err)
		}
	}
	for _, r := range defaults.Rules {
		r.IsUserCreated = false
		if _, err := store.InsertRule(ctx, r); err != nil {
			return false, fmt.Errorf("inserting global rule %q: %w", r.Keyword, err)
		}
	}

	logger.Info("seeded defaults",
		"categories", len(defaults.Categories),
		"rules", len(defaults.Rules),
	)
	return true, nil
}
