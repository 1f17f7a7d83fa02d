/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Dates travel as
  YYYY-MM-DD strings and money as decimal strings, so no amount is ever
  rounded through a float on the wire.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Contacts:     ContactDTO
  Policies:     PolicyDTO, PolicyViewDTO, BalanceDTO, PendingDTO, CancellationDTO
  Ledger:       InvoiceDTO, PaymentDTO
  Payments:     MakePaymentRequest, PaymentResultDTO
  Schedules:    ChangeScheduleRequest, ScheduleChangeDTO
  Admin:        SeedResponse, PurgeLogsRequest, PurgeLogsResponse, SweepResultDTO

VALIDATION:
  Request types carry validator/v10 tags; handlers run them before touching
  the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/samber/lo"

	"github.com/warp/policy-accounting/accounting"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ContactDTO represents a contact in API responses.
type ContactDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// PolicyDTO represents a policy in API responses.
type PolicyDTO struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	EffectiveDate   string `json:"effective_date"`
	AnnualPremium   string `json:"annual_premium"`
	BillingSchedule string `json:"billing_schedule"`
	Status          string `json:"status"`
	NamedInsuredID  int64  `json:"named_insured_id,omitempty"`
	AgentID         int64  `json:"agent_id,omitempty"`
}

// InvoiceDTO represents one installment.
type InvoiceDTO struct {
	ID         int64  `json:"id"`
	BillDate   string `json:"bill_date"`
	DueDate    string `json:"due_date"`
	CancelDate string `json:"cancel_date"`
	AmountDue  string `json:"amount_due"`
	Status     string `json:"status"`
}

// PaymentDTO represents a recorded payment.
type PaymentDTO struct {
	ID              int64  `json:"id"`
	ContactID       int64  `json:"contact_id"`
	ContactName     string `json:"contact_name,omitempty"`
	AmountPaid      string `json:"amount_paid"`
	TransactionDate string `json:"transaction_date"`

	// Absorbed payments were folded into the premium by a schedule change.
	Absorbed bool `json:"absorbed"`
}

// PolicyViewDTO is the account summary page: policy, balance, ledger.
type PolicyViewDTO struct {
	Policy              PolicyDTO    `json:"policy"`
	NamedInsured        string       `json:"named_insured,omitempty"`
	Agent               string       `json:"agent,omitempty"`
	AsOf                string       `json:"as_of"`
	Balance             string       `json:"balance"`
	PendingCancellation bool         `json:"pending_cancellation"`
	Invoices            []InvoiceDTO `json:"invoices"`
	Payments            []PaymentDTO `json:"payments"`
}

// BalanceDTO is the amount owed as of a date.
type BalanceDTO struct {
	PolicyID int64  `json:"policy_id"`
	AsOf     string `json:"as_of"`
	Balance  string `json:"balance"`
}

// PendingDTO reports the soft cancellation state.
type PendingDTO struct {
	PolicyID            int64  `json:"policy_id"`
	AsOf                string `json:"as_of"`
	PendingCancellation bool   `json:"pending_cancellation"`
}

// CancellationDTO reports the outcome of a cancellation evaluation.
type CancellationDTO struct {
	PolicyID      int64  `json:"policy_id"`
	AsOf          string `json:"as_of"`
	Canceled      bool   `json:"canceled"`
	Status        string `json:"status"`
	EffectiveDate string `json:"effective_date"`
}

// PaymentResultDTO is the payment gate's verdict.
type PaymentResultDTO struct {
	Accepted bool        `json:"accepted"`
	Payment  *PaymentDTO `json:"payment,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// ScheduleChangeDTO is the policy and its new term's invoices after a
// billing schedule change.
type ScheduleChangeDTO struct {
	Policy   PolicyDTO    `json:"policy"`
	Invoices []InvoiceDTO `json:"invoices"`
}

// SeedResponse summarizes a demo data load.
type SeedResponse struct {
	Contacts int `json:"contacts"`
	Policies int `json:"policies"`
	Invoices int `json:"invoices"`
	Payments int `json:"payments"`
}

// PurgeLogsResponse reports how many audit files were removed.
type PurgeLogsResponse struct {
	Removed int `json:"removed"`
}

// SweepResultDTO summarizes one cancellation sweep.
type SweepResultDTO struct {
	AsOf      string  `json:"as_of"`
	Evaluated int     `json:"evaluated"`
	Canceled  []int64 `json:"canceled"`
	Failed    int     `json:"failed"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// MakePaymentRequest proposes a payment. A zero contact means the named
// insured; an empty date means today.
type MakePaymentRequest struct {
	ContactID int64  `json:"contact_id" validate:"gte=0"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Amount    string `json:"amount" validate:"required,numeric"`
}

// ChangeScheduleRequest moves a policy to a new billing schedule.
type ChangeScheduleRequest struct {
	Schedule      string `json:"schedule" validate:"required"`
	EffectiveAsOf string `json:"effective_as_of" validate:"omitempty,datetime=2006-01-02"`
	TermEnd       string `json:"term_end" validate:"omitempty,datetime=2006-01-02"`
}

// PurgeLogsRequest authorizes deleting every audit file.
type PurgeLogsRequest struct {
	Password string `json:"password" validate:"required"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toContactDTO(c accounting.Contact) ContactDTO {
	return ContactDTO{ID: int64(c.ID), Name: c.Name, Role: string(c.Role)}
}

func toPolicyDTO(p accounting.Policy) PolicyDTO {
	return PolicyDTO{
		ID:              int64(p.ID),
		Name:            p.Name,
		EffectiveDate:   p.EffectiveDate.String(),
		AnnualPremium:   p.AnnualPremium.String(),
		BillingSchedule: p.BillingSchedule.String(),
		Status:          string(p.Status),
		NamedInsuredID:  int64(p.NamedInsured),
		AgentID:         int64(p.Agent),
	}
}

func toInvoiceDTOs(invoices []accounting.Invoice) []InvoiceDTO {
	return lo.Map(invoices, func(inv accounting.Invoice, _ int) InvoiceDTO {
		return InvoiceDTO{
			ID:         int64(inv.ID),
			BillDate:   inv.BillDate.String(),
			DueDate:    inv.DueDate.String(),
			CancelDate: inv.CancelDate.String(),
			AmountDue:  inv.AmountDue.String(),
			Status:     string(inv.Status),
		}
	})
}

func toPaymentDTO(p accounting.Payment, absorbedThrough accounting.PaymentID, names map[accounting.ContactID]string) PaymentDTO {
	return PaymentDTO{
		ID:              int64(p.ID),
		ContactID:       int64(p.ContactID),
		ContactName:     names[p.ContactID],
		AmountPaid:      p.AmountPaid.String(),
		TransactionDate: p.TransactionDate.String(),
		Absorbed:        p.ID <= absorbedThrough,
	}
}

func toPaymentDTOs(payments []accounting.Payment, absorbedThrough accounting.PaymentID, names map[accounting.ContactID]string) []PaymentDTO {
	return lo.Map(payments, func(p accounting.Payment, _ int) PaymentDTO {
		return toPaymentDTO(p, absorbedThrough, names)
	})
}
