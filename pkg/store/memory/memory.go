// Package memory provides an in-process Store. Data does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/template"
)

// Store keeps categories, rules, providers and transactions in memory.
type Store struct {
	mu sync.Mutex

	categories   []api.Category
	rules        []api.Rule
	providers    []api.Provider
	transactions map[string]api.Transaction

	nextCategoryID int64
	nextRuleID     int64
	nextProviderID int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		transactions: make(map[string]api.Transaction),
	}
}

// ListRules returns all rules in insertion order.
func (s *Store) ListRules(_ context.Context) ([]api.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

// InsertRule stores a rule, resolving its category by ID or name.
func (s *Store) InsertRule(_ context.Context, rule api.Rule) (api.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, err := s.resolveCategory(rule)
	if err != nil {
		return api.Rule{}, err
	}

	s.nextRuleID++
	rule.ID = s.nextRuleID
	rule.CategoryID = cat.ID
	rule.CategoryName = cat.Name
	rule.CreatedAt = time.Now().UTC()
	s.rules = append(s.rules, rule)
	return rule, nil
}

// UpdateRule replaces keyword, category and match type of an existing rule.
func (s *Store) UpdateRule(_ context.Context, rule api.Rule) (api.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.ruleIndex(rule.ID)
	if i < 0 {
		return api.Rule{}, fmt.Errorf("rule %d: %w", rule.ID, api.ErrNotFound)
	}
	cat, err := s.resolveCategory(rule)
	if err != nil {
		return api.Rule{}, err
	}

	existing := s.rules[i]
	existing.Keyword = rule.Keyword
	existing.MatchType = rule.MatchType
	existing.CategoryID = cat.ID
	existing.CategoryName = cat.Name
	s.rules[i] = existing
	return existing, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.ruleIndex(id)
	if i < 0 {
		return fmt.Errorf("rule %d: %w", id, api.ErrNotFound)
	}
	s.rules = append(s.rules[:i], s.rules[i+1:]...)
	return nil
}

// ListCategories returns all categories in insertion order.
func (s *Store) ListCategories(_ context.Context) ([]api.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Category, len(s.categories))
	copy(out, s.categories)
	return out, nil
}

// InsertCategory stores a category. Names are unique, ignoring case.
func (s *Store) InsertCategory(_ context.Context, c api.Category) (api.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return api.Category{}, fmt.Errorf("category name is required")
	}
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return api.Category{}, fmt.Errorf("category %q: %w", c.Name, api.ErrDuplicate)
		}
	}

	s.nextCategoryID++
	c.ID = s.nextCategoryID
	s.categories = append(s.categories, c)
	return c, nil
}

// DeleteCategory removes a category and every rule that references it.
func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, c := range s.categories {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("category %d: %w", id, api.ErrNotFound)
	}
	s.categories = append(s.categories[:idx], s.categories[idx+1:]...)

	kept := s.rules[:0]
	for _, r := range s.rules {
		if r.CategoryID != id {
			kept = append(kept, r)
		}
	}
	s.rules = kept
	return nil
}

// ListProviders returns all providers ordered by ID.
func (s *Store) ListProviders(_ context.Context) ([]api.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Provider, len(s.providers))
	copy(out, s.providers)
	return out, nil
}

// GetProvider returns a provider by ID.
func (s *Store) GetProvider(_ context.Context, id int64) (api.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return api.Provider{}, fmt.Errorf("provider %d: %w", id, api.ErrNotFound)
}

// SaveProvider validates the template and inserts or updates the provider.
// Providers are matched by ID when set, otherwise by name.
func (s *Store) SaveProvider(_ context.Context, p api.Provider) (api.Provider, error) {
	if err := template.Validate(p.Template); err != nil {
		return api.Provider{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.providers {
		if (p.ID != 0 && existing.ID == p.ID) || (p.ID == 0 && existing.Name == p.Name) {
			p.ID = existing.ID
			s.providers[i] = p
			return p, nil
		}
	}
	if p.ID != 0 {
		return api.Provider{}, fmt.Errorf("provider %d: %w", p.ID, api.ErrNotFound)
	}

	s.nextProviderID++
	p.ID = s.nextProviderID
	s.providers = append(s.providers, p)
	return p, nil
}

// DeleteProvider removes a provider. Its transactions are kept.
func (s *Store) DeleteProvider(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.providers {
		if p.ID == id {
			s.providers = append(s.providers[:i], s.providers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("provider %d: %w", id, api.ErrNotFound)
}

// ListExistingTransactionIDs returns the email IDs of all stored transactions.
func (s *Store) ListExistingTransactionIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.transactions))
	for id := range s.transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// InsertTransaction stores t, failing with api.ErrDuplicate if its email ID exists.
func (s *Store) InsertTransaction(_ context.Context, t api.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.EmailID == "" {
		return fmt.Errorf("transaction email id is required")
	}
	if _, ok := s.transactions[t.EmailID]; ok {
		return fmt.Errorf("transaction %s: %w", t.EmailID, api.ErrDuplicate)
	}
	s.transactions[t.EmailID] = t
	return nil
}

// ListTransactions returns matching transactions, newest first.
func (s *Store) ListTransactions(_ context.Context, f api.TransactionFilter) ([]api.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].EmailID < out[j].EmailID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) ruleIndex(id int64) int {
	for i, r := range s.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) resolveCategory(rule api.Rule) (api.Category, error) {
	for _, c := range s.categories {
		if rule.CategoryID != 0 && c.ID == rule.CategoryID {
			return c, nil
		}
		if rule.CategoryID == 0 && strings.EqualFold(c.Name, rule.CategoryName) {
			return c, nil
		}
	}
	return api.Category{}, fmt.Errorf("category %q: %w", rule.CategoryName, api.ErrUnknownCategory)
}

var _ api.Store = (*Store)(nil)
