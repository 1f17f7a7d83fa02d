/*
balance.go - Account balance as of a date

PURPOSE:
  Answers "how much does this policy owe on date D?"

FORMULA:
  balance(D) = sum(amount_due  of invoices billed on or before D)
             - sum(amount_paid of payments made on or before D)

  Nothing dated after D participates. Zero or negative results are returned
  unchanged; a negative balance is a credit. Callers treat <= 0 as paid in
  full as of D.

  The calculator does not filter by invoice status or payment absorption.
  Callers pass the collections that participate (see
  PolicyAccounting.ledger).

SEE ALSO:
  - cancellation.go: Evaluates balances at each invoice's own due/cancel date
*/
package accounting

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// BalanceAsOf returns invoiced minus paid as of asOf.
func BalanceAsOf(invoices []Invoice, payments []Payment, asOf Date) decimal.Decimal {
	billed := lo.Reduce(invoices, func(sum decimal.Decimal, inv Invoice, _ int) decimal.Decimal {
		if inv.BillDate.After(asOf) {
			return sum
		}
		return sum.Add(inv.AmountDue)
	}, decimal.Zero)

	paid := lo.Reduce(payments, func(sum decimal.Decimal, p Payment, _ int) decimal.Decimal {
		if p.TransactionDate.After(asOf) {
			return sum
		}
		return sum.Add(p.AmountPaid)
	}, decimal.Zero)

	return billed.Sub(paid)
}

// IsSettled reports whether a balance counts as paid in full.
func IsSettled(balance decimal.Decimal) bool {
	return !balance.IsPositive()
}

// Ledger is the invoice and payment collections of one policy that take part
// in balance math.
type Ledger struct {
	Invoices []Invoice
	Payments []Payment
}

// BalanceAt is BalanceAsOf over the ledger.
func (l Ledger) BalanceAt(asOf Date) decimal.Decimal {
	return BalanceAsOf(l.Invoices, l.Payments, asOf)
}

// SettledAt reports whether the ledger is paid in full as of asOf.
func (l Ledger) SettledAt(asOf Date) bool {
	return IsSettled(l.BalanceAt(asOf))
}
