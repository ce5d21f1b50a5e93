// Package report aggregates stored transactions into cash flow and spending summaries.
package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailspend/pkg/api"
)

// DefaultColor is used for categories without a configured colour.
const DefaultColor = "#6B7280"

// MonthFlow is the income and expense total of one calendar month.
type MonthFlow struct {
	Month   string          `json:"month"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// Net returns income minus expense.
func (m MonthFlow) Net() decimal.Decimal {
	return m.Income.Sub(m.Expense)
}

// CategorySpend is the expense total of one category.
type CategorySpend struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Color  string          `json:"color"`
}

// MonthlyCashFlow returns twelve entries, January first, totalling the
// transactions dated in year (UTC). Anything that is not income counts as
// expense.
func MonthlyCashFlow(txs []api.Transaction, year int) []MonthFlow {
	months := make([]MonthFlow, 12)
	for i := range months {
		months[i] = MonthFlow{
			Month:   time.Month(i + 1).String()[:3],
			Income:  decimal.Zero,
			Expense: decimal.Zero,
		}
	}

	for _, t := range txs {
		d := t.Date.UTC()
		if d.Year() != year {
			continue
		}
		m := &months[d.Month()-1]
		amount := decimal.NewFromFloat(t.Amount)
		if t.Type == api.Income {
			m.Income = m.Income.Add(amount)
		} else {
			m.Expense = m.Expense.Add(amount)
		}
	}
	return months
}

// CategorySpending totals expenses per category within [from, to). A zero
// bound is open. Results are ordered by amount, largest first, then by name.
// Colours come from categories, falling back to DefaultColor.
func CategorySpending(txs []api.Transaction, categories []api.Category, from, to time.Time) []CategorySpend {
	colors := make(map[string]string, len(categories))
	for _, c := range categories {
		if c.Color != "" {
			colors[c.Name] = c.Color
		}
	}

	totals := make(map[string]decimal.Decimal)
	for _, t := range txs {
		if t.Type == api.Income {
			continue
		}
		if !from.IsZero() && t.Date.Before(from) {
			continue
		}
		if !to.IsZero() && !t.Date.Before(to) {
			continue
		}
		name := t.Category
		if name == "" {
			name = api.Uncategorized
		}
		totals[name] = totals[name].Add(decimal.NewFromFloat(t.Amount))
	}

	out := make([]CategorySpend, 0, len(totals))
	for name, amount := range totals {
		color, ok := colors[name]
		if !ok {
			color = DefaultColor
		}
		out = append(out, CategorySpend{Name: name, Amount: amount, Color: color})
	}
	slices.SortFunc(out, func(a, b CategorySpend) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
