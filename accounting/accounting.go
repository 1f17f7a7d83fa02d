/*
accounting.go - Per-policy accounting orchestrator

PURPOSE:
  PolicyAccounting binds to one policy and is the only component that writes
  accounting state. It loads the policy's ledger from the Store, runs the
  pure calculators, and commits results inside Store.WithTx.

LIFECYCLE:
  1. New() loads the policy (ErrPolicyNotFound is logged with code 1)
  2. A policy without invoices gets a full one-year schedule immediately
  3. Queries and commands operate on freshly loaded collections per call

COMMANDS VS QUERIES:
  Balance and PendingDueToNonPay are read-only.
  ShouldCancel is a COMMAND: it answers the question AND persists the
  resulting status (Canceled with effective date moved to the breach's
  cancel date, or Active when nothing is breached).

BILLING SCHEDULE CHANGE:
  1. Reject unknown schedules
  2. Project the balance to one year past the current effective date; that
     unpaid obligation becomes the new annual premium. Every payment counted
     in the projection is absorbed and stops counting afterwards.
  3. Supersede invoices settled as of their own due date, delete the rest
  4. Move schedule, effective date and premium
  5. Generate the new term's invoices
  6. All of the above commits as one unit

DATES:
  A zero Date argument means "today" according to the session clock.

SEE ALSO:
  - schedule.go, balance.go, cancellation.go, payment.go
*/
package accounting

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// PolicyAccounting is an accounting session bound to one policy.
type PolicyAccounting struct {
	store Store
	audit AuditLogger
	clock func() Date

	Policy Policy
}

// Option configures a PolicyAccounting.
type Option func(*PolicyAccounting)

// WithClock overrides how "today" is determined.
func WithClock(clock func() Date) Option {
	return func(pa *PolicyAccounting) { pa.clock = clock }
}

// New starts a session for policy id, generating its invoices if it has none.
//
// An unknown policy yields ErrPolicyNotFound and a nil session. An unknown
// billing schedule yields a usable session and an error satisfying
// IsRecoverable; only the opening invoice is generated in that case.
func New(ctx context.Context, store Store, audit AuditLogger, id PolicyID, opts ...Option) (*PolicyAccounting, error) {
	if audit == nil {
		audit = NopAuditLogger{}
	}

	policy, err := store.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			audit.LogKnownError(CodeUnknownPolicy, id)
		}
		return nil, errors.Wrapf(err, "load policy %d", id)
	}

	pa := &PolicyAccounting{store: store, audit: audit, clock: Today, Policy: policy}
	for _, opt := range opts {
		opt(pa)
	}

	existing, err := store.ListInvoices(ctx, id, InvoiceFilter{})
	if err != nil {
		return nil, errors.Wrapf(err, "list invoices for policy %d", id)
	}
	if len(existing) > 0 {
		return pa, nil
	}

	return pa, pa.makeInvoices(ctx)
}

// makeInvoices generates and persists a full one-year schedule.
func (pa *PolicyAccounting) makeInvoices(ctx context.Context) error {
	invoices, genErr := GenerateInvoices(ScheduleRequest{
		PolicyID:      pa.Policy.ID,
		TermStart:     pa.Policy.EffectiveDate,
		AnnualPremium: pa.Policy.AnnualPremium,
		Schedule:      pa.Policy.BillingSchedule,
	})
	if genErr != nil {
		pa.audit.Log(genErr.Error(), LevelWarning, pa.Policy.ID)
	}

	err := pa.store.WithTx(ctx, func(w Writer) error {
		_, err := w.AddInvoices(ctx, invoices)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "persist invoices for policy %d", pa.Policy.ID)
	}

	pa.audit.Log(fmt.Sprintf("Generated %d invoice(s) on %s schedule", len(invoices), pa.Policy.BillingSchedule),
		LevelInfo, pa.Policy.ID)
	return genErr
}

// =============================================================================
// QUERIES
// =============================================================================

// ledger loads the invoices and payments that take part in balance math:
// active invoices and payments not absorbed by a schedule change.
func (pa *PolicyAccounting) ledger(ctx context.Context) (Ledger, error) {
	invoices, err := pa.store.ListInvoices(ctx, pa.Policy.ID, ActiveInvoices())
	if err != nil {
		return Ledger{}, errors.Wrapf(err, "list invoices for policy %d", pa.Policy.ID)
	}
	payments, err := pa.store.ListPayments(ctx, pa.Policy.ID, PaymentFilter{AfterID: pa.Policy.AbsorbedThrough})
	if err != nil {
		return Ledger{}, errors.Wrapf(err, "list payments for policy %d", pa.Policy.ID)
	}
	return Ledger{Invoices: invoices, Payments: payments}, nil
}

// Balance returns the amount owed as of asOf.
func (pa *PolicyAccounting) Balance(ctx context.Context, asOf Date) (decimal.Decimal, error) {
	l, err := pa.ledger(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return l.BalanceAt(asOf.orToday(pa.clock)), nil
}

// PendingDueToNonPay reports whether an invoice due on or before cutoff was
// unpaid as of its own due date.
func (pa *PolicyAccounting) PendingDueToNonPay(ctx context.Context, cutoff Date) (bool, error) {
	l, err := pa.ledger(ctx)
	if err != nil {
		return false, err
	}
	return CancellationEvaluator{Ledger: l}.PendingDueToNonPay(cutoff.orToday(pa.clock)), nil
}

// Invoices returns the active invoices ordered by bill date.
func (pa *PolicyAccounting) Invoices(ctx context.Context) ([]Invoice, error) {
	return pa.store.ListInvoices(ctx, pa.Policy.ID, ActiveInvoices())
}

// Payments returns every payment recorded on the policy, absorbed or not.
func (pa *PolicyAccounting) Payments(ctx context.Context) ([]Payment, error) {
	return pa.store.ListPayments(ctx, pa.Policy.ID, PaymentFilter{})
}

// =============================================================================
// COMMANDS
// =============================================================================

// ShouldCancel evaluates the hard cancellation trigger as of cutoff and
// persists the outcome. On a breach the policy becomes Canceled and its
// effective date moves to the breached invoice's cancel date; otherwise the
// policy is (re)set to Active. Returns whether a breach was found.
func (pa *PolicyAccounting) ShouldCancel(ctx context.Context, cutoff Date) (bool, error) {
	cutoff = cutoff.orToday(pa.clock)
	l, err := pa.ledger(ctx)
	if err != nil {
		return false, err
	}

	updated := pa.Policy
	breach, cancel := CancellationEvaluator{Ledger: l}.Breach(cutoff)
	if cancel {
		updated.Status = StatusCanceled
		updated.EffectiveDate = breach.CancelDate
	} else {
		updated.Status = StatusActive
	}

	changed := updated.Status != pa.Policy.Status || !updated.EffectiveDate.Equal(pa.Policy.EffectiveDate)
	if changed {
		err := pa.store.WithTx(ctx, func(w Writer) error {
			return w.UpdatePolicy(ctx, updated)
		})
		if err != nil {
			return false, errors.Wrapf(err, "update status of policy %d", pa.Policy.ID)
		}
		pa.Policy = updated
		pa.audit.Log(fmt.Sprintf("Status set to %s as of %s", updated.Status, cutoff), LevelInfo, pa.Policy.ID)
	}

	if cancel {
		pa.audit.Log(fmt.Sprintf("Cancellation triggered: invoice billed %s still owed at cancel date %s",
			breach.BillDate, breach.CancelDate), LevelInfo, pa.Policy.ID)
	}
	return cancel, nil
}

// PaymentRequest describes a proposed payment. Zero values default: the
// named insured pays, today.
type PaymentRequest struct {
	ContactID ContactID
	Date      Date
	Amount    decimal.Decimal
}

// AdmitPayment runs the payment gate and records an accepted payment.
// A rejection is reported in the Admission (and logged with code 2), not as
// an error. Unknown contacts are errors.
func (pa *PolicyAccounting) AdmitPayment(ctx context.Context, req PaymentRequest) (Admission, error) {
	contactID := req.ContactID
	if contactID == 0 {
		contactID = pa.Policy.NamedInsured
	}
	if contactID == 0 {
		return Admission{}, errors.Wrapf(ErrNoPayer, "policy %d", pa.Policy.ID)
	}

	payer, err := pa.store.GetContact(ctx, contactID)
	if err != nil {
		return Admission{}, errors.Wrapf(err, "load payer %d", contactID)
	}

	l, err := pa.ledger(ctx)
	if err != nil {
		return Admission{}, err
	}

	gate := PaymentGate{Evaluator: CancellationEvaluator{Ledger: l}}
	admission, err := gate.Admit(pa.Policy.ID, payer, req.Date.orToday(pa.clock), req.Amount)
	if err != nil {
		return Admission{}, err
	}
	if !admission.Accepted {
		pa.audit.LogKnownError(CodePaymentInCancelPending, pa.Policy.ID)
		return admission, nil
	}

	err = pa.store.WithTx(ctx, func(w Writer) error {
		stored, err := w.AddPayment(ctx, admission.Payment)
		admission.Payment = stored
		return err
	})
	if err != nil {
		return Admission{}, errors.Wrapf(err, "record payment on policy %d", pa.Policy.ID)
	}

	pa.audit.Log(fmt.Sprintf("Payment of %s by contact %d on %s",
		admission.Payment.AmountPaid, payer.ID, admission.Payment.TransactionDate), LevelInfo, pa.Policy.ID)
	return admission, nil
}

// ChangeOptions tunes a billing schedule change. Zero values default: the
// new term starts today and runs one year.
type ChangeOptions struct {
	EffectiveAsOf Date
	TermEnd       Date
}

// ChangeBillingSchedule moves the policy to a new schedule, rolling the
// unpaid obligation into a new term's premium.
func (pa *PolicyAccounting) ChangeBillingSchedule(ctx context.Context, schedule BillingSchedule, opts ChangeOptions) error {
	if !schedule.IsKnown() {
		pa.audit.Log(fmt.Sprintf("Rejected change to unknown billing schedule %d", int(schedule)), LevelError, pa.Policy.ID)
		return &UnknownBillingScheduleError{Schedule: schedule}
	}

	invoices, err := pa.store.ListInvoices(ctx, pa.Policy.ID, ActiveInvoices())
	if err != nil {
		return errors.Wrapf(err, "list invoices for policy %d", pa.Policy.ID)
	}
	payments, err := pa.store.ListPayments(ctx, pa.Policy.ID, PaymentFilter{AfterID: pa.Policy.AbsorbedThrough})
	if err != nil {
		return errors.Wrapf(err, "list payments for policy %d", pa.Policy.ID)
	}
	l := Ledger{Invoices: invoices, Payments: payments}

	// Every unabsorbed payment is folded in, including any dated past the
	// horizon, so none is counted both in the premium and afterwards.
	horizon := pa.Policy.EffectiveDate.AddMonths(TermLengthMonths)
	premium := BalanceAsOf(invoices, nil, horizon).Sub(sumPaid(payments))

	updated := pa.Policy
	updated.BillingSchedule = schedule
	updated.EffectiveDate = opts.EffectiveAsOf.orToday(pa.clock)
	updated.AnnualPremium = premium
	if len(payments) > 0 {
		updated.AbsorbedThrough = lo.MaxBy(payments, func(a, b Payment) bool { return a.ID > b.ID }).ID
	}

	fresh, genErr := GenerateInvoices(ScheduleRequest{
		PolicyID:      updated.ID,
		TermStart:     updated.EffectiveDate,
		TermEnd:       opts.TermEnd,
		AnnualPremium: premium,
		Schedule:      schedule,
	})
	if genErr != nil {
		return genErr
	}

	err = pa.store.WithTx(ctx, func(w Writer) error {
		for _, inv := range invoices {
			if l.SettledAt(inv.DueDate) {
				if err := w.SupersedeInvoice(ctx, inv.ID); err != nil {
					return err
				}
				continue
			}
			if err := w.DeleteInvoice(ctx, inv.ID); err != nil {
				return err
			}
		}
		if err := w.UpdatePolicy(ctx, updated); err != nil {
			return err
		}
		_, err := w.AddInvoices(ctx, fresh)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "change billing schedule of policy %d", pa.Policy.ID)
	}

	pa.audit.Log(fmt.Sprintf("Billing schedule changed from %s to %s effective %s, premium %s over %d invoice(s)",
		pa.Policy.BillingSchedule, schedule, updated.EffectiveDate, premium, len(fresh)), LevelInfo, pa.Policy.ID)
	pa.Policy = updated
	return nil
}

func sumPaid(payments []Payment) decimal.Decimal {
	return lo.Reduce(payments, func(sum decimal.Decimal, p Payment, _ int) decimal.Decimal {
		return sum.Add(p.AmountPaid)
	}, decimal.Zero)
}
