/*
Package accounting provides the policy accounting engine.

PURPOSE:
  Computes insurance-policy billing schedules, tracks account balances from
  invoices and payments, and decides whether a policy is pending cancellation
  or should be cancelled for non-payment.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy:  A term of coverage with an annual premium and a billing schedule
  - Invoice: One installment of the premium (bill, due and cancel dates)
  - Payment: An immutable record of money received from a contact
  - Contact: An agent or named insured, referenced by policies and payments

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. Type Safety: Distinct ID types for policies, invoices, payments, contacts
  3. Separation: Calculators are pure; only PolicyAccounting writes state
  4. History: Paid invoices are superseded, never physically removed

SEE ALSO:
  - schedule.go:     Billing schedule table and invoice generation
  - balance.go:      Balance as of a date
  - cancellation.go: Pending-cancellation and cancellation rules
  - payment.go:      Payment admission
  - accounting.go:   The per-policy orchestrator
*/
package accounting

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MinorUnitPlaces is the number of decimal places of the currency's minor unit.
const MinorUnitPlaces = 2

// NewMoney returns a whole-unit amount.
func NewMoney(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}

// MustParseMoney parses a decimal string and panics on malformed input.
// For constants and fixtures only.
func MustParseMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID int64
type InvoiceID int64
type PaymentID int64
type ContactID int64

// =============================================================================
// CONTACT
// =============================================================================

type ContactRole string

const (
	RoleAgent        ContactRole = "Agent"
	RoleNamedInsured ContactRole = "Named Insured"
)

type Contact struct {
	ID   ContactID
	Name string
	Role ContactRole
}

// =============================================================================
// POLICY
// =============================================================================

type PolicyStatus string

const (
	StatusActive   PolicyStatus = "Active"
	StatusCanceled PolicyStatus = "Canceled"
)

type Policy struct {
	ID              PolicyID
	Name            string
	EffectiveDate   Date
	AnnualPremium   decimal.Decimal
	BillingSchedule BillingSchedule
	Status          PolicyStatus

	// Zero when not set.
	NamedInsured ContactID
	Agent        ContactID

	// Payments with ID <= AbsorbedThrough were folded into AnnualPremium by a
	// billing schedule change and no longer count toward the balance.
	AbsorbedThrough PaymentID
}

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceStatus tags an invoice's participation in balance math.
type InvoiceStatus string

const (
	InvoiceActive     InvoiceStatus = "Active"
	InvoiceSuperseded InvoiceStatus = "Superseded" // paid, replaced by a schedule change
)

// Invoice is one installment. BillDate < DueDate < CancelDate always holds.
type Invoice struct {
	ID         InvoiceID
	PolicyID   PolicyID
	BillDate   Date
	DueDate    Date
	CancelDate Date
	AmountDue  decimal.Decimal
	Status     InvoiceStatus
}

// Grace periods between billing, due and cancel dates.
const (
	DueAfterMonths   = 1
	CancelAfterDays  = 14
	TermLengthMonths = 12
)

// NewInvoice builds an active invoice billed on billDate with derived due and
// cancel dates.
func NewInvoice(policyID PolicyID, billDate Date, amount decimal.Decimal) Invoice {
	due := billDate.AddMonths(DueAfterMonths)
	return Invoice{
		PolicyID:   policyID,
		BillDate:   billDate,
		DueDate:    due,
		CancelDate: due.AddDays(CancelAfterDays),
		AmountDue:  amount,
		Status:     InvoiceActive,
	}
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment is immutable once recorded.
type Payment struct {
	ID              PaymentID
	PolicyID        PolicyID
	ContactID       ContactID
	AmountPaid      decimal.Decimal
	TransactionDate Date
}
