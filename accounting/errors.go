/*
errors.go - Error types for the accounting engine

ERROR CATEGORIES:
  1. Lookup errors - Policy, contact or invoice not found (fatal to the call)
  2. Schedule errors - Unknown billing schedule (recoverable: the opening
     invoice is still produced)
  3. Payment errors - Rejected while pending cancellation, invalid amount,
     no payer

  Store commit failures are never translated; they reach the caller wrapped
  with context only, and are never retried here.

USAGE:
  pa, err := accounting.New(ctx, store, auditLog, id)
  if err != nil && !accounting.IsRecoverable(err) {
      return err
  }
*/
package accounting

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrContactNotFound = errors.New("contact not found")
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrUnknownBillingSchedule is recoverable during invoice generation and
	// fatal when requesting a schedule change.
	ErrUnknownBillingSchedule = errors.New("unknown billing schedule")

	// ErrPaymentRejectedCancelPending marks a payment refused because the
	// policy is pending cancellation and the payer is not an agent.
	ErrPaymentRejectedCancelPending = errors.New("payment rejected: policy pending cancellation")

	ErrInvalidPaymentAmount = errors.New("payment amount must be positive")

	// ErrNoPayer is returned when neither a contact nor a named insured is available.
	ErrNoPayer = errors.New("no payer for payment")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownBillingScheduleError names the schedule that has no table row.
type UnknownBillingScheduleError struct {
	Schedule BillingSchedule
	Name     string // raw name, when parsed from text
}

func (e *UnknownBillingScheduleError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown billing schedule %q", e.Name)
	}
	return fmt.Sprintf("unknown billing schedule %d", int(e.Schedule))
}

func (e *UnknownBillingScheduleError) Unwrap() error {
	return ErrUnknownBillingSchedule
}

// PaymentRejectedError explains why a payment was not admitted.
type PaymentRejectedError struct {
	PolicyID  PolicyID
	ContactID ContactID
	Role      ContactRole
	// The first invoice found unpaid as of its due date.
	PastDue Invoice
}

func (e *PaymentRejectedError) Error() string {
	return fmt.Sprintf("payment by contact %d (%s) rejected: policy %d pending cancellation, invoice billed %s unpaid at %s",
		e.ContactID, e.Role, e.PolicyID, e.PastDue.BillDate, e.PastDue.DueDate)
}

func (e *PaymentRejectedError) Unwrap() error {
	return ErrPaymentRejectedCancelPending
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownBillingSchedule) ||
		errors.Is(err, ErrInvalidPaymentAmount) ||
		errors.Is(err, ErrNoPayer) ||
		errors.Is(err, ErrPaymentRejectedCancelPending)
}

// IsRecoverable returns true for conditions that are reported but leave the
// returned value usable.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnknownBillingSchedule)
}
