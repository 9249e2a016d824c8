package core

import (
	"sort"
	"time"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
}

// BudgetProgress is the user's budget next to what the default account
// spent in the current month. Budget is nil when none was set.
type BudgetProgress struct {
	Budget          *Budget `json:"budget"`
	CurrentExpenses Money   `json:"currentExpenses"`
}

// PercentUsed returns spent/budget*100, or 0 without a positive budget.
func (p BudgetProgress) PercentUsed() float64 {
	if p.Budget == nil || p.Budget.Amount.Cents <= 0 {
		return 0
	}
	return float64(p.CurrentExpenses.Cents) * 100 / float64(p.Budget.Amount.Cents)
}

// MonthBounds returns [first day of month, first day of next month) for t.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	y, m, _ := t.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

// ExpensesByCategory sums EXPENSE transactions dated within [from, to) per
// category, largest first.
func ExpensesByCategory(txs []Transaction, from, to time.Time) []CategoryAmount {
	totals := map[string]int64{}
	for _, t := range txs {
		if t.Type != Expense || t.Date.Before(from) || !t.Date.Before(to) {
			continue
		}
		totals[t.Category] += t.Amount.Cents
	}
	out := make([]CategoryAmount, 0, len(totals))
	for name, cents := range totals {
		out = append(out, CategoryAmount{Name: name, Amount: Money{Cents: cents}})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount.Cents == out[j].Amount.Cents {
			return out[i].Name < out[j].Name
		}
		return out[i].Amount.Cents > out[j].Amount.Cents
	})
	return out
}
