// Package balance computes adjusted book balances and bank-vs-book
// differences for a reconciliation pass. All functions are pure: no I/O,
// no hidden state, safe to call concurrently.
package balance

import (
	"github.com/shopspring/decimal"

	"github.com/parishbooks/reconcile/internal/model"
)

// DefaultTolerance is the balanced/unbalanced epsilon for two-decimal
// currencies. A difference whose absolute value is strictly below this
// is treated as balanced.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Result holds the output of a balance computation.
type Result struct {
	ClearedDebits   decimal.Decimal
	ClearedCredits  decimal.Decimal
	AdjustedBalance decimal.Decimal
	Difference      decimal.Decimal
	IsBalanced      bool
}

// Compute derives the adjusted balance and difference for a cleared
// transaction set against a reported statement balance, using
// DefaultTolerance. An empty cleared set is valid and yields an adjusted
// balance equal to the book balance; a negative statement balance is a
// valid overdraft.
func Compute(bookBalance, statementBalance decimal.Decimal, cleared []model.LedgerTransaction) Result {
	return ComputeWithTolerance(bookBalance, statementBalance, cleared, DefaultTolerance)
}

// ComputeWithTolerance is Compute with an explicit epsilon, for
// currencies whose minor unit is not one hundredth. A difference exactly
// equal to the epsilon is not balanced.
func ComputeWithTolerance(bookBalance, statementBalance decimal.Decimal, cleared []model.LedgerTransaction, epsilon decimal.Decimal) Result {
	debits := decimal.Zero
	credits := decimal.Zero
	for _, txn := range cleared {
		debits = debits.Add(txn.DebitAmount)
		credits = credits.Add(txn.CreditAmount)
	}

	adjusted := bookBalance.Add(debits).Sub(credits)
	difference := adjusted.Sub(statementBalance)

	return Result{
		ClearedDebits:   debits,
		ClearedCredits:  credits,
		AdjustedBalance: adjusted,
		Difference:      difference,
		IsBalanced:      difference.Abs().LessThan(epsilon),
	}
}
