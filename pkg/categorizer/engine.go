// Package categorizer resolves merchants to spending categories using an
// ordered, cached set of keyword rules backed by a RuleStore.
package categorizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ArionMiles/mailspend/pkg/api"
)

var (
	// ErrInvalidRule is returned for rules with an empty keyword, category or unknown match type.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrGlobalRule is returned when editing or deleting a seeded global rule.
	ErrGlobalRule = errors.New("global rules cannot be modified")
)

// Engine holds the ordered rule cache. User rules come before global rules
// and, within each tier, longer keywords come first. The cache is only
// mutated after the store accepted the change.
type Engine struct {
	store  api.RuleStore
	logger *slog.Logger

	mu          sync.RWMutex
	rules       []api.Rule
	initialized bool
}

// New creates an uninitialized engine. Call Init before categorizing.
func New(store api.RuleStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		logger: logger,
	}
}

// Init loads rules from the store. Calling it again is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ensureLoaded(ctx)
}

// Reload replaces the cache with the store's current rules, for example after
// a category delete cascaded to its rules.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(ctx)
}

// ensureLoaded initializes the cache before a mutation. Callers hold the write lock.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	if e.initialized {
		return nil
	}
	return e.load(ctx)
}

func (e *Engine) load(ctx context.Context) error {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	for i := range rules {
		rules[i].Keyword = normalizeKeyword(rules[i].Keyword)
		if rules[i].MatchType == "" {
			rules[i].MatchType = api.MatchContains
		}
	}
	sortRules(rules)

	e.rules = rules
	e.initialized = true
	e.logger.Info("categorization rules loaded", "count", len(rules))
	return nil
}

// Initialized reports whether Init has completed.
func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Categorize returns the category of the first rule matching merchant, or
// "Uncategorized" when nothing matches or the engine is not initialized.
func (e *Engine) Categorize(merchant string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return api.Uncategorized
	}

	m := strings.ToUpper(strings.TrimSpace(merchant))
	for _, r := range e.rules {
		if matches(r, m) {
			return r.CategoryName
		}
	}
	return api.Uncategorized
}

func matches(r api.Rule, merchant string) bool {
	switch r.MatchType {
	case api.MatchExact:
		return merchant == r.Keyword
	case api.MatchStartsWith:
		return strings.HasPrefix(merchant, r.Keyword)
	default:
		return strings.Contains(merchant, r.Keyword)
	}
}

// Rules returns a copy of the ordered rule cache.
func (e *Engine) Rules() []api.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]api.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// AddRule persists a new user rule and inserts it ahead of every cached rule
// it does not rank below. An uninitialized engine is loaded first.
func (e *Engine) AddRule(ctx context.Context, rule api.Rule) (api.Rule, error) {
	rule, err := prepare(rule)
	if err != nil {
		return api.Rule{}, err
	}
	rule.ID = 0
	rule.IsUserCreated = true

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoaded(ctx); err != nil {
		return api.Rule{}, err
	}

	stored, err := e.store.InsertRule(ctx, rule)
	if err != nil {
		return api.Rule{}, fmt.Errorf("persisting rule: %w", err)
	}
	stored.Keyword = normalizeKeyword(stored.Keyword)

	at := sort.Search(len(e.rules), func(i int) bool {
		return !ranksBefore(e.rules[i], stored)
	})
	e.rules = append(e.rules, api.Rule{})
	copy(e.rules[at+1:], e.rules[at:])
	e.rules[at] = stored

	e.logger.Info("rule added", "rule_id", stored.ID, "keyword", stored.Keyword, "category", stored.CategoryName)
	return stored, nil
}

// EditRule persists changes to a user rule, then updates and re-sorts the cache.
func (e *Engine) EditRule(ctx context.Context, rule api.Rule) (api.Rule, error) {
	rule, err := prepare(rule)
	if err != nil {
		return api.Rule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoaded(ctx); err != nil {
		return api.Rule{}, err
	}
	if err := e.checkUserRule(rule.ID); err != nil {
		return api.Rule{}, err
	}
	rule.IsUserCreated = true

	stored, err := e.store.UpdateRule(ctx, rule)
	if err != nil {
		return api.Rule{}, fmt.Errorf("persisting rule %d: %w", rule.ID, err)
	}
	stored.Keyword = normalizeKeyword(stored.Keyword)

	if i := e.indexOf(stored.ID); i >= 0 {
		e.rules[i] = stored
		sortRules(e.rules)
	}

	e.logger.Info("rule updated", "rule_id", stored.ID, "keyword", stored.Keyword, "category", stored.CategoryName)
	return stored, nil
}

// DeleteRule persists the removal of a user rule, then drops it from the cache.
func (e *Engine) DeleteRule(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := e.checkUserRule(id); err != nil {
		return err
	}

	if err := e.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("deleting rule %d: %w", id, err)
	}

	if i := e.indexOf(id); i >= 0 {
		e.rules = append(e.rules[:i], e.rules[i+1:]...)
	}

	e.logger.Info("rule deleted", "rule_id", id)
	return nil
}

// Learn creates a contains rule for merchant using its first two words as the keyword.
func (e *Engine) Learn(ctx context.Context, merchant, category string) (api.Rule, error) {
	return e.AddRule(ctx, api.Rule{
		Keyword:      LearnKeyword(merchant),
		CategoryName: category,
		MatchType:    api.MatchContains,
	})
}

// LearnKeyword derives a rule keyword from a merchant name: the first two
// words when there are more than two, otherwise the whole name.
func LearnKeyword(merchant string) string {
	words := strings.Fields(merchant)
	if len(words) > 2 {
		words = words[:2]
	}
	return normalizeKeyword(strings.Join(words, " "))
}

// checkUserRule rejects changes to global rules. Unknown ids are left to the
// store, which reports api.ErrNotFound.
func (e *Engine) checkUserRule(id int64) error {
	if i := e.indexOf(id); i >= 0 && !e.rules[i].IsUserCreated {
		return fmt.Errorf("rule %d: %w", id, ErrGlobalRule)
	}
	return nil
}

func (e *Engine) indexOf(id int64) int {
	for i, r := range e.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func prepare(rule api.Rule) (api.Rule, error) {
	rule.Keyword = normalizeKeyword(rule.Keyword)
	rule.CategoryName = strings.TrimSpace(rule.CategoryName)
	if rule.MatchType == "" {
		rule.MatchType = api.MatchContains
	}

	switch {
	case rule.Keyword == "":
		return rule, fmt.Errorf("%w: keyword is required", ErrInvalidRule)
	case rule.CategoryName == "" && rule.CategoryID == 0:
		return rule, fmt.Errorf("%w: category is required", ErrInvalidRule)
	case !rule.MatchType.Valid():
		return rule, fmt.Errorf("%w: unknown match type %q", ErrInvalidRule, rule.MatchType)
	}
	return rule, nil
}

func normalizeKeyword(k string) string {
	return strings.ToUpper(strings.TrimSpace(k))
}

// ranksBefore reports whether a is ordered strictly ahead of b.
func ranksBefore(a, b api.Rule) bool {
	if a.IsUserCreated != b.IsUserCreated {
		return a.IsUserCreated
	}
	return utf8.RuneCountInString(a.Keyword) > utf8.RuneCountInString(b.Keyword)
}

func sortRules(rules []api.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return ranksBefore(rules[i], rules[j])
	})
}
