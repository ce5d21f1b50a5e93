package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailspend/pkg/api"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func fixture() []api.Transaction {
	return []api.Transaction{
		{Merchant: "GRAB", Amount: 12.3, Date: date(2024, 1, 5), Category: "Transport", Type: api.Expense},
		{Merchant: "GOJEK", Amount: 0.1, Date: date(2024, 1, 6), Category: "Transport", Type: api.Expense},
		{Merchant: "Salary", Amount: 5000, Date: date(2024, 1, 31), Category: "Income", Type: api.Income},
		{Merchant: "NTUC", Amount: 30, Date: date(2024, 3, 2), Category: "Groceries", Type: api.Expense},
		{Merchant: "KOPI", Amount: 0.2, Date: date(2024, 3, 3), Type: api.Expense},
		{Merchant: "SHOPEE", Amount: 99, Date: date(2023, 12, 31), Category: "Shopping", Type: api.Expense},
	}
}

func TestMonthlyCashFlow(t *testing.T) {
	flow := MonthlyCashFlow(fixture(), 2024)
	require.Len(t, flow, 12)

	assert.Equal(t, "Jan", flow[0].Month)
	assert.Equal(t, "Dec", flow[11].Month)

	assert.True(t, flow[0].Income.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "12.4", flow[0].Expense.String())
	assert.Equal(t, "4987.6", flow[0].Net().String())

	assert.True(t, flow[1].Income.IsZero())
	assert.True(t, flow[1].Expense.IsZero())
	assert.Equal(t, "30.2", flow[2].Expense.String())
	assert.True(t, flow[11].Expense.IsZero(), "other years are excluded")
}

func TestCategorySpending(t *testing.T) {
	cats := []api.Category{
		{Name: "Transport", Color: "#3498DB"},
		{Name: "Groceries", Color: "#2ECC71"},
	}

	all := CategorySpending(fixture(), cats, time.Time{}, time.Time{})
	require.Len(t, all, 4)
	assert.Equal(t, "Shopping", all[0].Name)
	assert.Equal(t, DefaultColor, all[0].Color)
	assert.Equal(t, "Groceries", all[1].Name)
	assert.Equal(t, "Transport", all[2].Name)
	assert.Equal(t, "12.4", all[2].Amount.String())
	assert.Equal(t, "#3498DB", all[2].Color)
	assert.Equal(t, api.Uncategorized, all[3].Name)

	march := CategorySpending(fixture(), cats, date(2024, 3, 1), date(2024, 4, 1))
	require.Len(t, march, 2)
	assert.Equal(t, "Groceries", march[0].Name)
	assert.Equal(t, api.Uncategorized, march[1].Name)

	assert.Empty(t, CategorySpending(nil, cats, time.Time{}, time.Time{}))
}
