package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/orchestrator"
	"github.com/ArionMiles/mailspend/pkg/report"
	"github.com/ArionMiles/mailspend/pkg/store/memory"
	"github.com/ArionMiles/mailspend/pkg/template"
)

const acmeBlock = "Paid to: ACME CORP\nAmount: SGD 45.00"

const acmeBody = "Thank you for your payment.\r\n" +
	"Paid to: ACME CORP\r\n" +
	"Amount: SGD 45.00\r\n" +
	"To view your transactions, log in.\r\n"

type fakeSyncer struct {
	res   *orchestrator.Result
	err   error
	calls int
}

func (f *fakeSyncer) Sync(context.Context) (*orchestrator.Result, error) {
	f.calls++
	return f.res, f.err
}

type fixture struct {
	srv   *Server
	store *memory.Store
}

func newFixture(t *testing.T, syncer Syncer) fixture {
	t.Helper()

	store := memory.New()
	_, err := categorizer.Seed(context.Background(), store, nil)
	require.NoError(t, err)

	srv := New(store, categorizer.New(store, nil), syncer, nil)
	srv.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return fixture{srv: srv, store: store}
}

// do sends a request to the app and returns the status code and raw body.
func (f fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func errorOf(t *testing.T, raw []byte) string {
	t.Helper()
	return decode[errorResponse](t, raw).Error
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: &template.ValidationError{Field: "merchantRegex", Err: errors.New("bad")}, want: http.StatusBadRequest},
		{err: categorizer.ErrInvalidRule, want: http.StatusBadRequest},
		{err: api.ErrUnknownCategory, want: http.StatusBadRequest},
		{err: api.ErrNotFound, want: http.StatusNotFound},
		{err: categorizer.ErrGlobalRule, want: http.StatusForbidden},
		{err: api.ErrDuplicate, want: http.StatusConflict},
		{err: badRequest("nope"), want: http.StatusBadRequest},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestTemplates(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("generate", func(t *testing.T) {
		code, body := f.do(t, http.MethodPost, "/api/templates/generate", generateRequest{
			Block: acmeBlock,
			Body:  acmeBody,
			Query: "from:alerts@acme.test",
		})
		require.Equal(t, http.StatusOK, code, string(body))

		got := decode[generateResponse](t, body)
		assert.Equal(t, "ACME CORP", got.Merchant)
		assert.Equal(t, "SGD", got.Currency)
		assert.Equal(t, "from:alerts@acme.test", got.Template.GmailQuery)
		assert.NotEmpty(t, got.Candidates)
		require.NoError(t, template.Validate(got.Template))
	})

	t.Run("generate requires block", func(t *testing.T) {
		code, body := f.do(t, http.MethodPost, "/api/templates/generate", generateRequest{Body: acmeBody})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "block is required", errorOf(t, body))
	})

	t.Run("extract", func(t *testing.T) {
		cfg, err := template.GenerateTemplate(acmeBlock, acmeBody, "q")
		require.NoError(t, err)

		code, body := f.do(t, http.MethodPost, "/api/templates/extract", extractRequest{Body: acmeBody, Template: cfg.Template})
		require.Equal(t, http.StatusOK, code, string(body))

		got := decode[api.ExtractionResult](t, body)
		assert.Equal(t, "ACME CORP", got.Merchant)
		assert.Equal(t, "SGD", got.Currency)
		require.NotNil(t, got.Amount)
		assert.Equal(t, "45.00", *got.Amount)
	})

	t.Run("extract rejects invalid template", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPost, "/api/templates/extract", extractRequest{
			Body:     acmeBody,
			Template: api.Template{MerchantRegex: "(", AmountRegex: `(\d+)`},
		})
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/templates/generate", bytes.NewReader([]byte("{")))
		req.Header.Set("Content-Type", "application/json")
		resp, err := f.srv.App().Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestProviders(t *testing.T) {
	f := newFixture(t, nil)

	cfg, err := template.GenerateTemplate(acmeBlock, acmeBody, "from:alerts@acme.test")
	require.NoError(t, err)

	code, body := f.do(t, http.MethodPost, "/api/providers", api.Provider{Name: " Acme Bank ", Template: cfg.Template})
	require.Equal(t, http.StatusOK, code, string(body))
	saved := decode[api.Provider](t, body)
	assert.Positive(t, saved.ID)
	assert.Equal(t, "Acme Bank", saved.Name)

	code, body = f.do(t, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]api.Provider](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, cfg.Template.MerchantRegex, list[0].Template.MerchantRegex)

	code, body = f.do(t, http.MethodPost, "/api/providers", api.Provider{
		Name:     "Broken",
		Template: api.Template{MerchantRegex: "[", AmountRegex: `(\d+)`},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorOf(t, body), "merchantRegex")

	code, _ = f.do(t, http.MethodPost, "/api/providers", api.Provider{Template: cfg.Template})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/providers/999", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodDelete, "/api/providers/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/providers/"+strconv.FormatInt(saved.ID, 10), nil)
	assert.Equal(t, http.StatusNoContent, code)

	_, body = f.do(t, http.MethodGet, "/api/providers", nil)
	assert.Empty(t, decode[[]api.Provider](t, body))
}

func categorizeVia(t *testing.T, f fixture, merchant string) string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/api/categorize", categorizeRequest{Merchant: merchant})
	require.Equal(t, http.StatusOK, code, string(body))
	return decode[categorizeResponse](t, body).Category
}

func TestCategoriesAndRules(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]api.Category](t, body), 6)

	code, _ = f.do(t, http.MethodPost, "/api/categories", api.Category{Name: "transport"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/categories", api.Category{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/api/categories", api.Category{Name: "Travel", Color: "#123456"})
	require.Equal(t, http.StatusCreated, code, string(body))
	travel := decode[api.Category](t, body)

	assert.Equal(t, "Transport", categorizeVia(t, f, "GRAB *RIDE 1234"))
	assert.Equal(t, api.Uncategorized, categorizeVia(t, f, "AIRASIA BERHAD"))

	code, body = f.do(t, http.MethodPost, "/api/rules", api.Rule{Keyword: "airasia", CategoryName: "Travel"})
	require.Equal(t, http.StatusCreated, code, string(body))
	rule := decode[api.Rule](t, body)
	assert.Equal(t, "AIRASIA", rule.Keyword)
	assert.True(t, rule.IsUserCreated)
	assert.Equal(t, api.MatchContains, rule.MatchType)

	assert.Equal(t, "Travel", categorizeVia(t, f, "AIRASIA BERHAD"))

	code, body = f.do(t, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, code)
	rules := decode[[]api.Rule](t, body)
	require.NotEmpty(t, rules)
	assert.Equal(t, rule.ID, rules[0].ID, "user rules rank first")

	var global api.Rule
	for _, r := range rules {
		if !r.IsUserCreated {
			global = r
			break
		}
	}
	require.NotZero(t, global.ID)

	ruleURL := func(id int64) string { return "/api/rules/" + strconv.FormatInt(id, 10) }

	t.Run("global rules are read-only", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPut, ruleURL(global.ID), api.Rule{Keyword: "X", CategoryName: "Travel"})
		assert.Equal(t, http.StatusForbidden, code)

		code, _ = f.do(t, http.MethodDelete, ruleURL(global.ID), nil)
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("invalid rules", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPost, "/api/rules", api.Rule{CategoryName: "Travel"})
		assert.Equal(t, http.StatusBadRequest, code)

		code, body := f.do(t, http.MethodPost, "/api/rules", api.Rule{Keyword: "X", CategoryName: "Nope"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, errorOf(t, body), "unknown category")

		code, _ = f.do(t, http.MethodPut, ruleURL(9999), api.Rule{Keyword: "X", CategoryName: "Travel"})
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("edit user rule", func(t *testing.T) {
		code, body := f.do(t, http.MethodPut, ruleURL(rule.ID), api.Rule{Keyword: "air asia", CategoryName: "Travel", MatchType: api.MatchStartsWith})
		require.Equal(t, http.StatusOK, code, string(body))
		edited := decode[api.Rule](t, body)
		assert.Equal(t, "AIR ASIA", edited.Keyword)
		assert.Equal(t, api.MatchStartsWith, edited.MatchType)

		assert.Equal(t, "Travel", categorizeVia(t, f, "AIR ASIA X"))
	})

	t.Run("delete category drops its rules", func(t *testing.T) {
		code, _ := f.do(t, http.MethodDelete, "/api/categories/"+strconv.FormatInt(travel.ID, 10), nil)
		require.Equal(t, http.StatusNoContent, code)

		assert.Equal(t, api.Uncategorized, categorizeVia(t, f, "AIR ASIA X"))

		code, _ = f.do(t, http.MethodDelete, "/api/categories/"+strconv.FormatInt(travel.ID, 10), nil)
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestDeleteUserRule(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/api/rules", api.Rule{Keyword: "KOPITIAM", CategoryName: "Food & Dining"})
	require.Equal(t, http.StatusCreated, code, string(body))
	rule := decode[api.Rule](t, body)
	assert.Equal(t, "Food & Dining", categorizeVia(t, f, "KOPITIAM BEDOK"))

	code, _ = f.do(t, http.MethodDelete, "/api/rules/"+strconv.FormatInt(rule.ID, 10), nil)
	require.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, api.Uncategorized, categorizeVia(t, f, "KOPITIAM BEDOK"))
}

func TestSync(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		code, body := f.do(t, http.MethodPost, "/api/sync", nil)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "sync is not configured", errorOf(t, body))
	})

	t.Run("result", func(t *testing.T) {
		syncer := &fakeSyncer{res: &orchestrator.Result{
			Transactions: []api.Transaction{{EmailID: "m1", Merchant: "ACME CORP", Amount: 45, Currency: "SGD"}},
			Items: []orchestrator.ItemResult{
				{ID: "m1", ProviderID: 1, Status: orchestrator.StatusSynced},
				{ID: "m2", ProviderID: 1, Status: orchestrator.StatusSkipped},
				{ID: "m3", ProviderID: 1, Status: orchestrator.StatusFailed, Error: errors.New("fetch timeout")},
			},
		}}
		f := newFixture(t, syncer)

		code, body := f.do(t, http.MethodPost, "/api/sync", nil)
		require.Equal(t, http.StatusOK, code, string(body))
		assert.Equal(t, 1, syncer.calls)

		got := decode[SyncResponse](t, body)
		assert.Equal(t, 1, got.Synced)
		assert.Equal(t, 1, got.Skipped)
		assert.Equal(t, 1, got.Failed)
		require.Len(t, got.Items, 3)
		assert.Equal(t, "fetch timeout", got.Items[2].Error)
		require.Len(t, got.Transactions, 1)
		assert.Equal(t, "ACME CORP", got.Transactions[0].Merchant)
	})

	t.Run("failure hides details", func(t *testing.T) {
		f := newFixture(t, &fakeSyncer{err: errors.New("db password wrong")})
		code, body := f.do(t, http.MethodPost, "/api/sync", nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "internal server error", errorOf(t, body))
	})
}

func TestTransactions(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/transactions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, body = f.do(t, http.MethodPost, "/api/transactions", manualTransactionRequest{
		Merchant: "GRAB PTE LTD",
		Amount:   12.5,
		Date:     "2024-03-01",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	grab := decode[api.Transaction](t, body)
	assert.Contains(t, grab.EmailID, "manual-")
	assert.Equal(t, "Transport", grab.Category)
	assert.Equal(t, api.DefaultCurrency, grab.Currency)
	assert.Equal(t, api.Expense, grab.Type)
	assert.Equal(t, "manual", grab.Source)

	code, body = f.do(t, http.MethodPost, "/api/transactions", manualTransactionRequest{
		Merchant: "Employer",
		Amount:   5000,
		Currency: "sgd",
		Category: "Salary",
		Type:     api.Income,
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	salary := decode[api.Transaction](t, body)
	assert.Equal(t, "SGD", salary.Currency)
	assert.Equal(t, "Salary", salary.Category)
	assert.True(t, salary.Date.Equal(f.srv.now()))

	for name, req := range map[string]manualTransactionRequest{
		"no merchant": {Amount: 1},
		"zero amount": {Merchant: "X"},
		"bad type":    {Merchant: "X", Amount: 1, Type: "refund"},
		"bad date":    {Merchant: "X", Amount: 1, Date: "yesterday"},
	} {
		t.Run(name, func(t *testing.T) {
			code, _ := f.do(t, http.MethodPost, "/api/transactions", req)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}

	code, body = f.do(t, http.MethodGet, "/api/transactions?category=Transport", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]api.Transaction](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, grab.EmailID, list[0].EmailID)

	code, body = f.do(t, http.MethodGet, "/api/transactions?from=2024-06-01&to=2024-07-01", nil)
	require.Equal(t, http.StatusOK, code)
	list = decode[[]api.Transaction](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, salary.EmailID, list[0].EmailID)

	code, _ = f.do(t, http.MethodGet, "/api/transactions?from=soon", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/transactions?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/transactions?providerId=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReports(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, tx := range []api.Transaction{
		{EmailID: "a", Merchant: "GRAB", Amount: 12.3, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Category: "Transport", Type: api.Expense},
		{EmailID: "b", Merchant: "GOJEK", Amount: 0.1, Date: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), Category: "Transport", Type: api.Expense},
		{EmailID: "c", Merchant: "NTUC", Amount: 40, Date: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), Category: "Groceries", Type: api.Expense},
		{EmailID: "d", Merchant: "Employer", Amount: 5000, Date: time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC), Type: api.Income},
		{EmailID: "e", Merchant: "Old", Amount: 99, Date: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), Category: "Transport", Type: api.Expense},
	} {
		require.NoError(t, f.store.InsertTransaction(ctx, tx))
	}

	t.Run("cashflow", func(t *testing.T) {
		code, body := f.do(t, http.MethodGet, "/api/reports/cashflow?year=2024", nil)
		require.Equal(t, http.StatusOK, code, string(body))

		months := decode[[]report.MonthFlow](t, body)
		require.Len(t, months, 12)
		assert.Equal(t, "Mar", months[2].Month)
		assert.Equal(t, "12.4", months[2].Expense.String())
		assert.Equal(t, "5000", months[2].Income.String())
		assert.Equal(t, "40", months[3].Expense.String())
		assert.True(t, months[11].Expense.IsZero())
	})

	t.Run("cashflow defaults to current year", func(t *testing.T) {
		code, body := f.do(t, http.MethodGet, "/api/reports/cashflow", nil)
		require.Equal(t, http.StatusOK, code)
		months := decode[[]report.MonthFlow](t, body)
		assert.Equal(t, "12.4", months[2].Expense.String())
	})

	t.Run("cashflow bad year", func(t *testing.T) {
		code, _ := f.do(t, http.MethodGet, "/api/reports/cashflow?year=abc", nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("categories", func(t *testing.T) {
		code, body := f.do(t, http.MethodGet, "/api/reports/categories?from=2024-01-01&to=2025-01-01", nil)
		require.Equal(t, http.StatusOK, code, string(body))

		spend := decode[[]report.CategorySpend](t, body)
		require.Len(t, spend, 2)
		assert.Equal(t, "Groceries", spend[0].Name)
		assert.Equal(t, "40", spend[0].Amount.String())
		assert.Equal(t, "#2ECC71", spend[0].Color)
		assert.Equal(t, "Transport", spend[1].Name)
		assert.Equal(t, "12.4", spend[1].Amount.String())
	})

	t.Run("categories rejects inverted range", func(t *testing.T) {
		code, body := f.do(t, http.MethodGet, "/api/reports/categories?from=2024-06-01&to=2024-01-01", nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "from must be before to", errorOf(t, body))
	})
}
