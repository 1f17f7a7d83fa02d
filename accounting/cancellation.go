/*
cancellation.go - Pending-cancellation and cancellation rules

PURPOSE:
  Evaluates a policy's ledger against each invoice's own deadlines.

RULES:
  Pending cancellation (soft):
    Among invoices due on or before the cutoff (ordered by due date), the
    policy is pending cancellation if the balance as of ANY such invoice's
    due date is positive. Each due moment is checked individually, not the
    aggregate balance at the cutoff.

  Cancellation (hard):
    Among invoices whose cancel date is on or before the cutoff (ordered by
    bill date), the first invoice whose balance as of its own cancel date is
    positive is the breach.

  The evaluator only answers questions. Applying a breach to the policy
  (status and effective date) is PolicyAccounting.ShouldCancel's job.

EXAMPLE:
  Quarterly, 1600/year from 2015-02-01, 400 paid on 2015-02-01:
    due 2015-03-01: balance 400 - 400 = 0    -> not pending
    due 2015-06-01: balance 800 - 400 = 400  -> pending from 2015-06-01 on
*/
package accounting

import (
	"sort"

	"github.com/samber/lo"
)

// CancellationEvaluator answers cancellation questions over one ledger.
type CancellationEvaluator struct {
	Ledger Ledger
}

// PastDue returns the first invoice (by due date) due on or before cutoff
// that was not paid in full as of its own due date.
func (ce CancellationEvaluator) PastDue(cutoff Date) (Invoice, bool) {
	due := invoicesUpTo(ce.Ledger.Invoices, cutoff, OrderByDueDate)
	return lo.Find(due, func(inv Invoice) bool {
		return !ce.Ledger.SettledAt(inv.DueDate)
	})
}

// PendingDueToNonPay reports whether any due invoice went unpaid at its due date.
func (ce CancellationEvaluator) PendingDueToNonPay(cutoff Date) bool {
	_, pending := ce.PastDue(cutoff)
	return pending
}

// Breach returns the first invoice (by bill date) whose cancel date is on or
// before cutoff and whose balance as of that cancel date is positive.
func (ce CancellationEvaluator) Breach(cutoff Date) (Invoice, bool) {
	lapsed := invoicesUpTo(ce.Ledger.Invoices, cutoff, OrderByCancelDate)
	sort.SliceStable(lapsed, func(i, j int) bool {
		return lapsed[i].BillDate.Before(lapsed[j].BillDate)
	})
	return lo.Find(lapsed, func(inv Invoice) bool {
		return !ce.Ledger.SettledAt(inv.CancelDate)
	})
}

// invoicesUpTo returns invoices whose date under key is on or before cutoff,
// sorted by that date.
func invoicesUpTo(invoices []Invoice, cutoff Date, key InvoiceOrder) []Invoice {
	selected := lo.Filter(invoices, func(inv Invoice, _ int) bool {
		return key.SortKey(inv).BeforeOrEqual(cutoff)
	})
	sort.SliceStable(selected, func(i, j int) bool {
		return key.SortKey(selected[i]).Before(key.SortKey(selected[j]))
	})
	return selected
}
