/*
handlers.go - HTTP API handlers for policy accounting

PURPOSE:
  Exposes the accounting engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to accounting.PolicyAccounting.

ENDPOINTS:
  Contacts:
    GET    /api/contacts                          List all contacts

  Policies:
    GET    /api/policies                          List all policies
    GET    /api/policies/{id}                     Get policy details
    GET    /api/policies/{id}/view?as_of=         Account summary (evaluates cancellation first)
    GET    /api/policies/{id}/balance?as_of=      Amount owed
    GET    /api/policies/{id}/pending?as_of=      Pending cancellation check
    GET    /api/policies/{id}/invoices            Active invoices
    GET    /api/policies/{id}/payments            Every recorded payment
    POST   /api/policies/{id}/payments            Propose a payment
    POST   /api/policies/{id}/cancellation?as_of= Evaluate and persist cancellation
    POST   /api/policies/{id}/billing-schedule    Change billing schedule

  Admin:
    POST   /api/admin/seed                        Reset and load demo data
    POST   /api/admin/logs/purge                  Delete every audit file
    POST   /api/admin/sweep?as_of=                Run the cancellation sweep now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (plus Reset for seeding)
  - Audit: Per-policy audit trail
  - Metrics: Prometheus collectors
  - Clock: What "today" means for defaulted dates

  Every per-policy request opens a fresh accounting session. Sessions are
  serialized by Handler.mu because the engine reads, computes, then writes.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Open accounting session
  4. Call engine
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown schedule, invalid amount, no payer
  - 403: Wrong purge password
  - 404: Policy or contact not found
  - 503: Database unreachable (/health)
  - 409: Payment refused while pending cancellation
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Admin endpoints are guarded only by the purge password.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loader
  - sweeper.go: Scheduled cancellation sweep
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-accounting/accounting"
	"github.com/warp/policy-accounting/audit"
	"github.com/warp/policy-accounting/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the engine's store plus a reset
// used by the seed loader.
type Store interface {
	accounting.Store
	Reset(ctx context.Context) error
}

// AuditTrail is the audit logger plus its operator controls.
type AuditTrail interface {
	accounting.AuditLogger
	Enable()
	Disable()
	Enabled() bool
	Purge(password string) (int, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Audit   AuditTrail
	Log     *logger.Logger
	Metrics *Metrics
	Clock   func() accounting.Date

	validate *validator.Validate
	mu       sync.Mutex
}

// NewHandler creates a new handler. log may be nil.
func NewHandler(store Store, trail AuditTrail, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		Store:    store,
		Audit:    trail,
		Log:      log,
		Metrics:  NewMetrics(),
		Clock:    accounting.Today,
		validate: validator.New(),
	}
}

// session opens an accounting session for the {id} URL parameter. It writes
// the error response and returns false when the policy cannot be opened.
// Callers must hold h.mu.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*accounting.PolicyAccounting, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid policy id", err)
		return nil, false
	}

	pa, err := accounting.New(r.Context(), h.Store, h.Audit, accounting.PolicyID(id), accounting.WithClock(h.Clock))
	if err != nil {
		if !accounting.IsRecoverable(err) {
			h.writeAccountingError(w, "Failed to open policy", err)
			return nil, false
		}
		h.Log.Warnw("Policy opened with recoverable error", "policy_id", id, "error", err)
	}
	return pa, true
}

// =============================================================================
// HEALTH
// =============================================================================

// pinger is implemented by stores backed by a database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and readiness of the database when the store has one.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	db, ok := h.Store.(pinger)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if err := db.Ping(r.Context()); err != nil {
		h.Log.Errorw("Database ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// =============================================================================
// CONTACT HANDLERS
// =============================================================================

// ListContacts returns all contacts.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.Store.ListContacts(r.Context())
	if err != nil {
		h.writeAccountingError(w, "Failed to list contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(contacts, func(c accounting.Contact, _ int) ContactDTO {
		return toContactDTO(c)
	}))
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		h.writeAccountingError(w, "Failed to list policies", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(policies, func(p accounting.Policy, _ int) PolicyDTO {
		return toPolicyDTO(p)
	}))
}

// GetPolicy returns a single policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(pa.Policy))
}

// ViewPolicy is the account summary page. Like any display of the account, it
// first evaluates (and persists) cancellation as of the requested date.
// GET /api/policies/{id}/view?as_of=YYYY-MM-DD
func (h *Handler) ViewPolicy(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}

	canceled, err := pa.ShouldCancel(ctx, asOf)
	if err != nil {
		h.writeAccountingError(w, "Failed to evaluate cancellation", err)
		return
	}
	h.Metrics.RecordCancellation(canceled)

	balance, err := pa.Balance(ctx, asOf)
	if err != nil {
		h.writeAccountingError(w, "Failed to compute balance", err)
		return
	}
	pending, err := pa.PendingDueToNonPay(ctx, asOf)
	if err != nil {
		h.writeAccountingError(w, "Failed to evaluate pending cancellation", err)
		return
	}
	invoices, err := pa.Invoices(ctx)
	if err != nil {
		h.writeAccountingError(w, "Failed to list invoices", err)
		return
	}
	payments, err := pa.Payments(ctx)
	if err != nil {
		h.writeAccountingError(w, "Failed to list payments", err)
		return
	}
	names, err := h.contactNames(ctx)
	if err != nil {
		h.writeAccountingError(w, "Failed to resolve contacts", err)
		return
	}

	writeJSON(w, http.StatusOK, PolicyViewDTO{
		Policy:              toPolicyDTO(pa.Policy),
		NamedInsured:        names[pa.Policy.NamedInsured],
		Agent:               names[pa.Policy.Agent],
		AsOf:                asOf.String(),
		Balance:             balance.String(),
		PendingCancellation: pending,
		Invoices:            toInvoiceDTOs(invoices),
		Payments:            toPaymentDTOs(payments, pa.Policy.AbsorbedThrough, names),
	})
}

// GetBalance returns the amount owed.
// GET /api/policies/{id}/balance?as_of=YYYY-MM-DD
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}
	balance, err := pa.Balance(r.Context(), asOf)
	if err != nil {
		h.writeAccountingError(w, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		PolicyID: int64(pa.Policy.ID),
		AsOf:     asOf.String(),
		Balance:  balance.String(),
	})
}

// GetPending reports whether the policy is pending cancellation.
// GET /api/policies/{id}/pending?as_of=YYYY-MM-DD
func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}
	pending, err := pa.PendingDueToNonPay(r.Context(), asOf)
	if err != nil {
		h.writeAccountingError(w, "Failed to evaluate pending cancellation", err)
		return
	}

	writeJSON(w, http.StatusOK, PendingDTO{
		PolicyID:            int64(pa.Policy.ID),
		AsOf:                asOf.String(),
		PendingCancellation: pending,
	})
}

// ListInvoices returns the policy's active invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}
	invoices, err := pa.Invoices(r.Context())
	if err != nil {
		h.writeAccountingError(w, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

// ListPayments returns every payment recorded on the policy.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}
	payments, err := pa.Payments(ctx)
	if err != nil {
		h.writeAccountingError(w, "Failed to list payments", err)
		return
	}
	names, err := h.contactNames(ctx)
	if err != nil {
		h.writeAccountingError(w, "Failed to resolve contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments, pa.Policy.AbsorbedThrough, names))
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// MakePayment runs the payment gate. An accepted payment returns 201; a
// refusal while pending cancellation returns 409 with the verdict.
// POST /api/policies/{id}/payments
func (h *Handler) MakePayment(w http.ResponseWriter, r *http.Request) {
	var req MakePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}

	admission, err := pa.AdmitPayment(ctx, accounting.PaymentRequest{
		ContactID: accounting.ContactID(req.ContactID),
		Date:      date,
		Amount:    amount,
	})
	if err != nil {
		h.writeAccountingError(w, "Failed to make payment", err)
		return
	}

	if !admission.Accepted {
		var rejected *accounting.PaymentRejectedError
		role := ""
		if errors.As(admission.Reason, &rejected) {
			role = string(rejected.Role)
		}
		h.Metrics.RecordPayment(false, role)
		writeJSON(w, http.StatusConflict, PaymentResultDTO{
			Accepted: false,
			Reason:   admission.Reason.Error(),
		})
		return
	}

	payer, err := h.Store.GetContact(ctx, admission.Payment.ContactID)
	if err != nil {
		h.writeAccountingError(w, "Failed to resolve payer", err)
		return
	}
	h.Metrics.RecordPayment(true, string(payer.Role))

	dto := toPaymentDTO(admission.Payment, pa.Policy.AbsorbedThrough,
		map[accounting.ContactID]string{payer.ID: payer.Name})
	writeJSON(w, http.StatusCreated, PaymentResultDTO{Accepted: true, Payment: &dto})
}

// EvaluateCancellation runs the hard cancellation trigger and persists the
// outcome.
// POST /api/policies/{id}/cancellation?as_of=YYYY-MM-DD
func (h *Handler) EvaluateCancellation(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}
	canceled, err := pa.ShouldCancel(r.Context(), asOf)
	if err != nil {
		h.writeAccountingError(w, "Failed to evaluate cancellation", err)
		return
	}
	h.Metrics.RecordCancellation(canceled)

	writeJSON(w, http.StatusOK, CancellationDTO{
		PolicyID:      int64(pa.Policy.ID),
		AsOf:          asOf.String(),
		Canceled:      canceled,
		Status:        string(pa.Policy.Status),
		EffectiveDate: pa.Policy.EffectiveDate.String(),
	})
}

// ChangeBillingSchedule moves the policy to a new schedule.
// POST /api/policies/{id}/billing-schedule
func (h *Handler) ChangeBillingSchedule(w http.ResponseWriter, r *http.Request) {
	var req ChangeScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	schedule, err := accounting.ParseBillingSchedule(req.Schedule)
	if err != nil {
		h.writeAccountingError(w, "Unknown billing schedule", err)
		return
	}
	effective, err := parseOptionalDate(req.EffectiveAsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_as_of format (use YYYY-MM-DD)", err)
		return
	}
	termEnd, err := parseOptionalDate(req.TermEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid term_end format (use YYYY-MM-DD)", err)
		return
	}
	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	pa, ok := h.session(w, r)
	if !ok {
		return
	}
	err = pa.ChangeBillingSchedule(ctx, schedule, accounting.ChangeOptions{
		EffectiveAsOf: effective,
		TermEnd:       termEnd,
	})
	if err != nil {
		h.writeAccountingError(w, "Failed to change billing schedule", err)
		return
	}
	h.Metrics.RecordScheduleChange(schedule.String())

	invoices, err := pa.Invoices(ctx)
	if err != nil {
		h.writeAccountingError(w, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleChangeDTO{
		Policy:   toPolicyDTO(pa.Policy),
		Invoices: toInvoiceDTOs(invoices),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SeedDatabase clears all data and loads the demo policies.
// POST /api/admin/seed
func (h *Handler) SeedDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp, err := Seed(r.Context(), h.Store, h.Audit, h.Clock)
	if err != nil {
		h.writeAccountingError(w, "Failed to seed database", err)
		return
	}
	h.Log.Infow("Database seeded", "contacts", resp.Contacts, "policies", resp.Policies, "invoices", resp.Invoices)
	writeJSON(w, http.StatusOK, resp)
}

// PurgeLogs deletes every audit file.
// POST /api/admin/logs/purge
func (h *Handler) PurgeLogs(w http.ResponseWriter, r *http.Request) {
	var req PurgeLogsRequest
	if !h.decode(w, r, &req) {
		return
	}

	removed, err := h.Audit.Purge(req.Password)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidPassword) {
			writeError(w, http.StatusForbidden, "Invalid password", nil)
			return
		}
		h.writeAccountingError(w, "Failed to purge logs", err)
		return
	}
	h.Log.Infow("Audit logs purged", "removed", removed)
	writeJSON(w, http.StatusOK, PurgeLogsResponse{Removed: removed})
}

// RunSweep evaluates cancellation for every active policy now.
// POST /api/admin/sweep?as_of=YYYY-MM-DD
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	result, err := h.SweepCancellations(r.Context(), asOf)
	if err != nil {
		h.writeAccountingError(w, "Failed to run sweep", err)
		return
	}
	canceled := lo.Map(result.Canceled, func(id accounting.PolicyID, _ int) int64 {
		return int64(id)
	})
	writeJSON(w, http.StatusOK, SweepResultDTO{
		AsOf:      result.AsOf.String(),
		Evaluated: result.Evaluated,
		Canceled:  canceled,
		Failed:    result.Failed,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) contactNames(ctx context.Context) (map[accounting.ContactID]string, error) {
	contacts, err := h.Store.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(contacts, func(c accounting.Contact) (accounting.ContactID, string) {
		return c.ID, c.Name
	}), nil
}

// asOfParam reads the optional as_of query parameter, defaulting to today.
func (h *Handler) asOfParam(w http.ResponseWriter, r *http.Request) (accounting.Date, bool) {
	asOf, err := parseOptionalDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
		return accounting.Date{}, false
	}
	if asOf.IsZero() {
		asOf = h.Clock()
	}
	return asOf, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeAccountingError maps engine errors onto HTTP statuses.
func (h *Handler) writeAccountingError(w http.ResponseWriter, message string, err error) {
	switch {
	case accounting.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case accounting.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.Errorw(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parseOptionalDate(s string) (accounting.Date, error) {
	if s == "" {
		return accounting.Date{}, nil
	}
	return accounting.ParseDate(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
