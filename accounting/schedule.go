/*
schedule.go - Billing schedule table and invoice generation

PURPOSE:
  Splits a term's annual premium into installments according to the
  policy's billing schedule.

BILLING SCHEDULES:
  Schedule      Invoices/term   Months between invoices
  Annual        1               12
  Two-Pay       2               6
  Semi-Annual   3               6
  Quarterly     4               3
  Monthly       12              1

ROUNDING:
  The first n-1 installments are premium/n truncated to the minor unit.
  The last installment absorbs the remainder, so the installments always sum
  to the premium exactly:

    1000.00 / 3 -> 333.33, 333.33, 333.34

PARTIAL TERMS:
  When a term end other than start + 12 months is supplied, the number of
  installments is the number of whole billing periods that fit between the
  term start and the term end (integer floor of elapsed months / interval).

UNKNOWN SCHEDULES:
  Generation still returns the opening invoice carrying the full premium,
  together with an *UnknownBillingScheduleError. Both return values are
  meaningful in that case.

SEE ALSO:
  - accounting.go: Regenerates invoices on schedule changes
*/
package accounting

import (
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BILLING SCHEDULE
// =============================================================================

// BillingSchedule is the cadence at which a term's premium is invoiced.
type BillingSchedule int

const (
	ScheduleUnknown BillingSchedule = iota
	ScheduleAnnual
	ScheduleTwoPay
	ScheduleSemiAnnual
	ScheduleQuarterly
	ScheduleMonthly
)

// BillingSchedules lists every recognized schedule.
var BillingSchedules = []BillingSchedule{
	ScheduleAnnual,
	ScheduleTwoPay,
	ScheduleSemiAnnual,
	ScheduleQuarterly,
	ScheduleMonthly,
}

func (s BillingSchedule) String() string {
	switch s {
	case ScheduleAnnual:
		return "Annual"
	case ScheduleTwoPay:
		return "Two-Pay"
	case ScheduleSemiAnnual:
		return "Semi-Annual"
	case ScheduleQuarterly:
		return "Quarterly"
	case ScheduleMonthly:
		return "Monthly"
	default:
		return "Unknown"
	}
}

// ParseBillingSchedule maps a schedule name to its BillingSchedule.
func ParseBillingSchedule(name string) (BillingSchedule, error) {
	for _, s := range BillingSchedules {
		if s.String() == name {
			return s, nil
		}
	}
	return ScheduleUnknown, &UnknownBillingScheduleError{Name: name}
}

// ScheduleSpec is a row of the billing schedule table.
type ScheduleSpec struct {
	InvoicesPerTerm      int
	MonthsBetweenInvoice int
}

// Spec returns the table row for s. ok is false for unrecognized schedules.
func (s BillingSchedule) Spec() (spec ScheduleSpec, ok bool) {
	switch s {
	case ScheduleAnnual:
		return ScheduleSpec{InvoicesPerTerm: 1, MonthsBetweenInvoice: 12}, true
	case ScheduleTwoPay:
		return ScheduleSpec{InvoicesPerTerm: 2, MonthsBetweenInvoice: 6}, true
	case ScheduleSemiAnnual:
		// TODO: confirm the Semi-Annual interval with the product owner; 6 is a placeholder decision.
		return ScheduleSpec{InvoicesPerTerm: 3, MonthsBetweenInvoice: 6}, true
	case ScheduleQuarterly:
		return ScheduleSpec{InvoicesPerTerm: 4, MonthsBetweenInvoice: 3}, true
	case ScheduleMonthly:
		return ScheduleSpec{InvoicesPerTerm: 12, MonthsBetweenInvoice: 1}, true
	default:
		return ScheduleSpec{}, false
	}
}

// IsKnown reports whether s has a table row.
func (s BillingSchedule) IsKnown() bool {
	_, ok := s.Spec()
	return ok
}

// =============================================================================
// INVOICE SCHEDULER
// =============================================================================

// ScheduleRequest describes the term to invoice.
type ScheduleRequest struct {
	PolicyID      PolicyID
	TermStart     Date
	TermEnd       Date // zero means TermStart + 12 months
	AnnualPremium decimal.Decimal
	Schedule      BillingSchedule
}

// GenerateInvoices produces the ordered invoices covering the requested term.
// For an unknown schedule it returns the opening invoice and an
// *UnknownBillingScheduleError.
func GenerateInvoices(req ScheduleRequest) ([]Invoice, error) {
	opening := NewInvoice(req.PolicyID, req.TermStart, req.AnnualPremium)

	spec, ok := req.Schedule.Spec()
	if !ok {
		return []Invoice{opening}, &UnknownBillingScheduleError{Schedule: req.Schedule}
	}
	if req.Schedule == ScheduleAnnual {
		return []Invoice{opening}, nil
	}

	count := spec.InvoicesPerTerm
	fullTermEnd := req.TermStart.AddMonths(TermLengthMonths)
	if !req.TermEnd.IsZero() && !req.TermEnd.Equal(fullTermEnd) {
		count = MonthsBetween(req.TermStart, req.TermEnd) / spec.MonthsBetweenInvoice
	}
	if count < 1 {
		count = 1
	}

	amounts := SplitPremium(req.AnnualPremium, count)
	invoices := make([]Invoice, 0, count)
	for i, amount := range amounts {
		billDate := req.TermStart.AddMonths(i * spec.MonthsBetweenInvoice)
		invoices = append(invoices, NewInvoice(req.PolicyID, billDate, amount))
	}
	return invoices, nil
}

// SplitPremium divides premium into n installments truncated to the minor
// unit, with the last installment absorbing the remainder.
func SplitPremium(premium decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 {
		panic(errors.Newf("accounting: cannot split premium into %d installments", n))
	}
	share := premium.Div(decimal.NewFromInt(int64(n))).Truncate(MinorUnitPlaces)
	amounts := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		amounts[i] = share
		allocated = allocated.Add(share)
	}
	amounts[n-1] = premium.Sub(allocated)
	return amounts
}
