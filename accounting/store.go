/*
store.go - Persistence interface consumed by the accounting engine

PURPOSE:
  Defines the boundary between accounting logic and the database. The engine
  reads through Store and writes only inside WithTx, so every mutation it
  performs (invoice regeneration, status change, payment) commits as one
  atomic unit.

CONCURRENCY:
  The engine does no locking of its own. Two sessions on the same policy must
  be serialized by the Store implementation.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:       SQLite via sqlx
  - accounting/store/memory.go:   In-memory for testing

SEE ALSO:
  - accounting.go: The only writer
*/
package accounting

import "context"

// =============================================================================
// QUERY FILTERS
// =============================================================================

// InvoiceOrder selects the sort key for invoice listings.
type InvoiceOrder int

const (
	OrderByBillDate InvoiceOrder = iota
	OrderByDueDate
	OrderByCancelDate
)

// InvoiceFilter narrows an invoice listing. Nil fields do not filter.
type InvoiceFilter struct {
	Status           *InvoiceStatus
	BilledOnOrBefore *Date
	DueOnOrBefore    *Date
	CancelOnOrBefore *Date
	OrderBy          InvoiceOrder
}

// ActiveInvoices selects invoices that participate in balance math.
func ActiveInvoices() InvoiceFilter {
	status := InvoiceActive
	return InvoiceFilter{Status: &status}
}

// Matches reports whether inv passes the filter's predicates.
func (f InvoiceFilter) Matches(inv Invoice) bool {
	if f.Status != nil && inv.Status != *f.Status {
		return false
	}
	if f.BilledOnOrBefore != nil && inv.BillDate.After(*f.BilledOnOrBefore) {
		return false
	}
	if f.DueOnOrBefore != nil && inv.DueDate.After(*f.DueOnOrBefore) {
		return false
	}
	if f.CancelOnOrBefore != nil && inv.CancelDate.After(*f.CancelOnOrBefore) {
		return false
	}
	return true
}

// SortKey returns the date inv is ordered by under o.
func (o InvoiceOrder) SortKey(inv Invoice) Date {
	switch o {
	case OrderByDueDate:
		return inv.DueDate
	case OrderByCancelDate:
		return inv.CancelDate
	default:
		return inv.BillDate
	}
}

// PaymentFilter narrows a payment listing. Payments are ordered by
// transaction date, then ID.
type PaymentFilter struct {
	OnOrBefore *Date
	AfterID    PaymentID // only payments with ID > AfterID
}

func (f PaymentFilter) Matches(p Payment) bool {
	if f.OnOrBefore != nil && p.TransactionDate.After(*f.OnOrBefore) {
		return false
	}
	return p.ID > f.AfterID
}

// =============================================================================
// STORE
// =============================================================================

// Store is the read side plus the transactional write boundary.
type Store interface {
	// GetPolicy returns ErrPolicyNotFound when no policy has the ID.
	GetPolicy(ctx context.Context, id PolicyID) (Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)

	// GetContact returns ErrContactNotFound when no contact has the ID.
	GetContact(ctx context.Context, id ContactID) (Contact, error)
	ListContacts(ctx context.Context) ([]Contact, error)

	ListInvoices(ctx context.Context, policyID PolicyID, filter InvoiceFilter) ([]Invoice, error)
	ListPayments(ctx context.Context, policyID PolicyID, filter PaymentFilter) ([]Payment, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Writer is rolled back.
	WithTx(ctx context.Context, fn func(Writer) error) error
}

// Writer is the set of mutations available inside a transaction.
type Writer interface {
	AddContact(ctx context.Context, c Contact) (Contact, error)
	AddPolicy(ctx context.Context, p Policy) (Policy, error)

	// UpdatePolicy returns ErrPolicyNotFound when the policy does not exist.
	UpdatePolicy(ctx context.Context, p Policy) error

	// AddInvoices assigns IDs and returns the stored invoices in input order.
	AddInvoices(ctx context.Context, invoices []Invoice) ([]Invoice, error)

	// DeleteInvoice and SupersedeInvoice return ErrInvoiceNotFound for an unknown ID.
	DeleteInvoice(ctx context.Context, id InvoiceID) error
	SupersedeInvoice(ctx context.Context, id InvoiceID) error

	AddPayment(ctx context.Context, p Payment) (Payment, error)
}
