package categorizer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/store/memory"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps the memory store and fails selected operations on demand.
type flakyStore struct {
	*memory.Store
	failList   bool
	failInsert bool
	failUpdate bool
	failDelete bool
}

func (s *flakyStore) ListRules(ctx context.Context) ([]api.Rule, error) {
	if s.failList {
		return nil, errStoreDown
	}
	return s.Store.ListRules(ctx)
}

func (s *flakyStore) InsertRule(ctx context.Context, r api.Rule) (api.Rule, error) {
	if s.failInsert {
		return api.Rule{}, errStoreDown
	}
	return s.Store.InsertRule(ctx, r)
}

func (s *flakyStore) UpdateRule(ctx context.Context, r api.Rule) (api.Rule, error) {
	if s.failUpdate {
		return api.Rule{}, errStoreDown
	}
	return s.Store.UpdateRule(ctx, r)
}

func (s *flakyStore) DeleteRule(ctx context.Context, id int64) error {
	if s.failDelete {
		return errStoreDown
	}
	return s.Store.DeleteRule(ctx, id)
}

func newStore(t *testing.T, categories ...string) *flakyStore {
	t.Helper()

	s := &flakyStore{Store: memory.New()}
	for _, name := range categories {
		_, err := s.InsertCategory(context.Background(), api.Category{Name: name})
		require.NoError(t, err)
	}
	return s
}

func insertRule(t *testing.T, s api.RuleStore, keyword, category string, match api.MatchType, user bool) api.Rule {
	t.Helper()

	r, err := s.InsertRule(context.Background(), api.Rule{
		Keyword:       keyword,
		CategoryName:  category,
		MatchType:     match,
		IsUserCreated: user,
	})
	require.NoError(t, err)
	return r
}

func assertOrdered(t *testing.T, rules []api.Rule) {
	t.Helper()

	for i := 1; i < len(rules); i++ {
		prev, cur := rules[i-1], rules[i]
		if prev.IsUserCreated != cur.IsUserCreated {
			assert.True(t, prev.IsUserCreated, "global rule %q ahead of user rule %q", prev.Keyword, cur.Keyword)
			continue
		}
		assert.GreaterOrEqual(t, utf8.RuneCountInString(prev.Keyword), utf8.RuneCountInString(cur.Keyword),
			"rule %q ahead of longer rule %q", prev.Keyword, cur.Keyword)
	}
}

func TestCategorizeBeforeInit(t *testing.T) {
	s := newStore(t, "Transport")
	insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)

	e := New(s, nil)
	assert.False(t, e.Initialized())
	assert.Equal(t, "Uncategorized", e.Categorize("GRAB PTE LTD"))
}

func TestCategorizeMatchTypes(t *testing.T) {
	tests := []struct {
		name     string
		keyword  string
		match    api.MatchType
		merchant string
		want     string
	}{
		{name: "contains substring", keyword: "GRAB", match: api.MatchContains, merchant: "GRABFOOD SG", want: "Transport"},
		{name: "contains is case insensitive", keyword: "grab", match: api.MatchContains, merchant: "grabfood sg", want: "Transport"},
		{name: "empty match type means contains", keyword: "FOOD", match: "", merchant: "GRABFOOD SG", want: "Transport"},
		{name: "exact rejects longer merchant", keyword: "GRAB", match: api.MatchExact, merchant: "GRABFOOD SG", want: "Uncategorized"},
		{name: "exact accepts equal merchant", keyword: "GRABFOOD SG", match: api.MatchExact, merchant: "GrabFood SG", want: "Transport"},
		{name: "starts with prefix", keyword: "GRAB", match: api.MatchStartsWith, merchant: "GRAB PTE LTD", want: "Transport"},
		{name: "starts with rejects infix", keyword: "FOOD", match: api.MatchStartsWith, merchant: "GRABFOOD SG", want: "Uncategorized"},
		{name: "no rule matches", keyword: "GOJEK", match: api.MatchContains, merchant: "GRAB PTE LTD", want: "Uncategorized"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t, "Transport")
			insertRule(t, s, tc.keyword, "Transport", tc.match, false)

			e := New(s, nil)
			require.NoError(t, e.Init(context.Background()))
			assert.Equal(t, tc.want, e.Categorize(tc.merchant))
		})
	}
}

func TestCategorizeUserRuleOverridesGlobal(t *testing.T) {
	s := newStore(t, "Transport", "Food")
	insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)
	insertRule(t, s, "GRAB", "Food", api.MatchContains, true)

	e := New(s, nil)
	require.NoError(t, e.Init(context.Background()))
	assert.Equal(t, "Food", e.Categorize("GRAB PTE LTD"))
}

func TestCategorizeLongerKeywordWins(t *testing.T) {
	s := newStore(t, "Transport", "Food")
	insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)
	insertRule(t, s, "GRABFOOD", "Food", api.MatchContains, false)

	e := New(s, nil)
	require.NoError(t, e.Init(context.Background()))
	assert.Equal(t, "Food", e.Categorize("GRABFOOD SG"))
	assert.Equal(t, "Transport", e.Categorize("GRAB RIDE"))
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport")
	insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	insertRule(t, s, "GOJEK", "Transport", api.MatchContains, false)
	require.NoError(t, e.Init(ctx))
	assert.Len(t, e.Rules(), 1)

	require.NoError(t, e.Reload(ctx))
	assert.Len(t, e.Rules(), 2)
}

func TestInitFailure(t *testing.T) {
	s := newStore(t)
	s.failList = true

	e := New(s, nil)
	err := e.Init(context.Background())
	require.ErrorIs(t, err, errStoreDown)
	assert.False(t, e.Initialized())
	assert.Equal(t, "Uncategorized", e.Categorize("ANYTHING"))
}

func TestAddRule(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport", "Food")
	insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	added, err := e.AddRule(ctx, api.Rule{Keyword: " grab ", CategoryName: "Food"})
	require.NoError(t, err)
	assert.NotZero(t, added.ID)
	assert.Equal(t, "GRAB", added.Keyword)
	assert.True(t, added.IsUserCreated)
	assert.Equal(t, api.MatchContains, added.MatchType)

	rules := e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, added.ID, rules[0].ID)
	assert.Equal(t, "Food", e.Categorize("GRAB PTE LTD"))
}

func TestAddRuleNewestFirstAmongEqualRank(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport", "Food")

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	_, err := e.AddRule(ctx, api.Rule{Keyword: "GRAB", CategoryName: "Transport"})
	require.NoError(t, err)
	_, err = e.AddRule(ctx, api.Rule{Keyword: "GRAB", CategoryName: "Food"})
	require.NoError(t, err)

	assert.Equal(t, "Food", e.Categorize("GRAB PTE LTD"))
}

func TestAddRuleLoadsUninitializedEngine(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport")
	insertRule(t, s, "GOJEK", "Transport", api.MatchContains, false)

	e := New(s, nil)
	_, err := e.AddRule(ctx, api.Rule{Keyword: "GRAB", CategoryName: "Transport"})
	require.NoError(t, err)

	assert.True(t, e.Initialized())
	assert.Len(t, e.Rules(), 2)
}

func TestAddRuleFailures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport")
	insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))
	before := e.Rules()

	s.failInsert = true
	_, err := e.AddRule(ctx, api.Rule{Keyword: "GOJEK", CategoryName: "Transport"})
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, before, e.Rules())

	s.failInsert = false
	_, err = e.AddRule(ctx, api.Rule{Keyword: "GOJEK", CategoryName: "Nope"})
	require.ErrorIs(t, err, api.ErrUnknownCategory)
	assert.Equal(t, before, e.Rules())

	_, err = e.AddRule(ctx, api.Rule{Keyword: "  ", CategoryName: "Transport"})
	require.ErrorIs(t, err, ErrInvalidRule)

	_, err = e.AddRule(ctx, api.Rule{Keyword: "GOJEK", CategoryName: "Transport", MatchType: "regex"})
	require.ErrorIs(t, err, ErrInvalidRule)

	_, err = e.AddRule(ctx, api.Rule{Keyword: "GOJEK"})
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Equal(t, before, e.Rules())
}

func TestEditRuleResorts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport", "Food")

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	long, err := e.AddRule(ctx, api.Rule{Keyword: "GRABFOOD", CategoryName: "Food"})
	require.NoError(t, err)
	short, err := e.AddRule(ctx, api.Rule{Keyword: "GRAB", CategoryName: "Transport"})
	require.NoError(t, err)
	assert.Equal(t, "Food", e.Categorize("GRABFOOD SG"))

	short.Keyword = "GRABFOOD SG"
	edited, err := e.EditRule(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, "GRABFOOD SG", edited.Keyword)

	rules := e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, short.ID, rules[0].ID)
	assert.Equal(t, long.ID, rules[1].ID)
	assert.Equal(t, "Transport", e.Categorize("GRABFOOD SG"))
	assertOrdered(t, rules)
}

func TestEditRuleFailures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport")
	global := insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	user, err := e.AddRule(ctx, api.Rule{Keyword: "GOJEK", CategoryName: "Transport"})
	require.NoError(t, err)
	before := e.Rules()

	s.failUpdate = true
	user.Keyword = "GOJEK RIDE"
	_, err = e.EditRule(ctx, user)
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, before, e.Rules())
	s.failUpdate = false

	global.Keyword = "GRAB TAXI"
	_, err = e.EditRule(ctx, global)
	require.ErrorIs(t, err, ErrGlobalRule)

	_, err = e.EditRule(ctx, api.Rule{ID: 999, Keyword: "X", CategoryName: "Transport"})
	require.ErrorIs(t, err, api.ErrNotFound)
	assert.Equal(t, before, e.Rules())
}

func TestDeleteRule(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport", "Food")
	global := insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	user, err := e.AddRule(ctx, api.Rule{Keyword: "GRAB", CategoryName: "Food"})
	require.NoError(t, err)

	s.failDelete = true
	require.ErrorIs(t, e.DeleteRule(ctx, user.ID), errStoreDown)
	assert.Equal(t, "Food", e.Categorize("GRAB PTE LTD"))
	s.failDelete = false

	require.NoError(t, e.DeleteRule(ctx, user.ID))
	assert.Equal(t, "Transport", e.Categorize("GRAB PTE LTD"))
	assert.Len(t, e.Rules(), 1)

	require.ErrorIs(t, e.DeleteRule(ctx, global.ID), ErrGlobalRule)
	require.ErrorIs(t, e.DeleteRule(ctx, user.ID), api.ErrNotFound)
}

func TestReloadAfterCategoryCascade(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport", "Food")
	insertRule(t, s, "GRAB", "Transport", api.MatchContains, false)

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))
	_, err := e.AddRule(ctx, api.Rule{Keyword: "GRAB", CategoryName: "Food"})
	require.NoError(t, err)

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DeleteCategory(ctx, cats[1].ID))

	require.NoError(t, e.Reload(ctx))
	assert.Equal(t, "Transport", e.Categorize("GRAB PTE LTD"))
}

func TestOrderingInvariantUnderRandomMutations(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	categories := []string{"Transport", "Food", "Groceries"}
	letters := []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZ ")

	randomKeyword := func() string {
		n := 1 + rng.Intn(12)
		k := make([]rune, n)
		for i := range k {
			k[i] = letters[rng.Intn(len(letters))]
		}
		k[0] = 'K'
		return strings.TrimSpace(string(k))
	}

	for round := 0; round < 20; round++ {
		s := newStore(t, categories...)
		for i := 0; i < 10; i++ {
			insertRule(t, s, randomKeyword(), categories[rng.Intn(len(categories))], api.MatchContains, false)
		}

		e := New(s, nil)
		require.NoError(t, e.Init(ctx))
		assertOrdered(t, e.Rules())

		var userIDs []int64
		for op := 0; op < 40; op++ {
			switch choice := rng.Intn(3); {
			case choice == 0 || len(userIDs) == 0:
				r, err := e.AddRule(ctx, api.Rule{Keyword: randomKeyword(), CategoryName: categories[rng.Intn(len(categories))]})
				require.NoError(t, err)
				userIDs = append(userIDs, r.ID)
			case choice == 1:
				id := userIDs[rng.Intn(len(userIDs))]
				_, err := e.EditRule(ctx, api.Rule{ID: id, Keyword: randomKeyword(), CategoryName: categories[rng.Intn(len(categories))]})
				require.NoError(t, err)
			default:
				i := rng.Intn(len(userIDs))
				require.NoError(t, e.DeleteRule(ctx, userIDs[i]))
				userIDs = append(userIDs[:i], userIDs[i+1:]...)
			}

			cached := e.Rules()
			assertOrdered(t, cached)

			stored, err := s.ListRules(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, ruleKeys(stored), ruleKeys(cached), "round %d op %d", round, op)
		}
	}
}

func ruleKeys(rules []api.Rule) []string {
	keys := make([]string, len(rules))
	for i, r := range rules {
		keys[i] = fmt.Sprintf("%d:%s:%s", r.ID, r.Keyword, r.CategoryName)
	}
	return keys
}

func TestConcurrentMutationsAndReads(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Transport")
	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := e.AddRule(ctx, api.Rule{Keyword: fmt.Sprintf("SHOP %d", i), CategoryName: "Transport"})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			e.Categorize("SHOP 1")
		}()
	}
	wg.Wait()

	stored, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, e.Rules(), 20)
	assert.ElementsMatch(t, ruleKeys(stored), ruleKeys(e.Rules()))
	assertOrdered(t, e.Rules())
}

func TestLearn(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Food & Dining")
	e := New(s, nil)
	require.NoError(t, e.Init(ctx))

	r, err := e.Learn(ctx, "Generation Hawk 2 Pte Ltd", "Food & Dining")
	require.NoError(t, err)
	assert.Equal(t, "GENERATION HAWK", r.Keyword)
	assert.Equal(t, "Food & Dining", e.Categorize("GENERATION HAWK 3 PTE LTD"))

	assert.Equal(t, "YA KUN", LearnKeyword("  Ya   Kun "))
	assert.Equal(t, "KFC", LearnKeyword("kfc"))
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	seeded, err := Seed(ctx, s, nil)
	require.NoError(t, err)
	assert.True(t, seeded)

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 6)

	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 19)
	for _, r := range rules {
		assert.False(t, r.IsUserCreated, r.Keyword)
	}

	seeded, err = Seed(ctx, s, nil)
	require.NoError(t, err)
	assert.False(t, seeded)

	e := New(s, nil)
	require.NoError(t, e.Init(ctx))
	assert.Equal(t, "Transport", e.Categorize("Grab Holdings"))
	assert.Equal(t, "Groceries", e.Categorize("NTUC FAIRPRICE"))
	assert.Equal(t, "Transfers", e.Categorize("PAYNOW TRANSFER"))
	assert.Equal(t, "Uncategorized", e.Categorize("ACME CORP"))
}
