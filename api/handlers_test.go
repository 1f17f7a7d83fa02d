/*
handlers_test.go - HTTP tests for the policy accounting API

Tests run against the full chi router over the seeded demo book, with the
clock pinned to 2015-03-01.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-accounting/accounting"
	memstore "github.com/warp/policy-accounting/accounting/store"
	"github.com/warp/policy-accounting/audit"
	"github.com/warp/policy-accounting/store/sqlite"
)

// Seeded IDs, in insertion order.
const (
	policyOne   = 1 // Annual 365, agent only
	policyTwo   = 2 // Quarterly 1600, 400 paid
	policyThree = 3 // Monthly 1200, nothing paid

	johnDoeAgentID = 1
)

func testClock() accounting.Date {
	return accounting.NewDate(2015, time.March, 1)
}

func setupTestHandler(t *testing.T) (*Handler, *audit.FileLogger) {
	t.Helper()
	trail, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "logs"), "secret", nil)
	require.NoError(t, err)

	h := NewHandler(memstore.NewMemory(), trail, nil)
	h.Clock = testClock
	return h, trail
}

func seededRouter(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	h, _ := setupTestHandler(t)
	_, err := Seed(context.Background(), h.Store, h.Audit, h.Clock)
	require.NoError(t, err)
	return h, NewRouter(h)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertAmount(t *testing.T, expected, actual string) {
	t.Helper()
	want := decimal.RequireFromString(expected)
	got, err := decimal.NewFromString(actual)
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "expected %s, got %s", expected, actual)
}

// =============================================================================
// LISTINGS
// =============================================================================

func TestHealth(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := do(t, NewRouter(h), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestHealth_PingsDatabase(t *testing.T) {
	// GIVEN: A handler over a SQLite store
	trail, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "logs"), "secret", nil)
	require.NoError(t, err)
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	router := NewRouter(NewHandler(db, trail, nil))

	// WHEN: The database is reachable
	rec := do(t, router, http.MethodGet, "/health", nil)

	// THEN: Ready
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["database"])

	// WHEN: The connection is gone
	require.NoError(t, db.Close())
	rec = do(t, router, http.MethodGet, "/health", nil)

	// THEN: Unavailable
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeBody[map[string]string](t, rec)["status"])
}

func TestListPoliciesAndContacts(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	policies := decodeBody[[]PolicyDTO](t, rec)
	require.Len(t, policies, 3)
	assert.Equal(t, "Policy Two", policies[1].Name)
	assert.Equal(t, "Quarterly", policies[1].BillingSchedule)
	assert.Equal(t, "2015-02-01", policies[1].EffectiveDate)
	assertAmount(t, "1600", policies[1].AnnualPremium)

	rec = do(t, router, http.MethodGet, "/api/contacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	contacts := decodeBody[[]ContactDTO](t, rec)
	require.Len(t, contacts, 6)
	assert.Equal(t, ContactDTO{ID: 1, Name: "John Doe", Role: "Agent"}, contacts[0])
}

func TestGetPolicy_NotFoundAndInvalidID(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodGet, "/api/policies/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodGet, "/api/policies/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListInvoices(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodGet, "/api/policies/2/invoices", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decodeBody[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 4)
	assert.Equal(t, "2015-02-01", invoices[0].BillDate)
	assert.Equal(t, "2015-03-01", invoices[0].DueDate)
	assert.Equal(t, "2015-03-15", invoices[0].CancelDate)
	for _, inv := range invoices {
		assertAmount(t, "400", inv.AmountDue)
	}
}

// =============================================================================
// BALANCE AND CANCELLATION
// =============================================================================

func TestGetBalance(t *testing.T) {
	_, router := seededRouter(t)

	tests := []struct {
		name     string
		path     string
		asOf     string
		expected string
	}{
		{"paid first quarter", "/api/policies/2/balance?as_of=2015-02-01", "2015-02-01", "0"},
		{"second quarter billed", "/api/policies/2/balance?as_of=2015-05-01", "2015-05-01", "400"},
		{"defaults to today", "/api/policies/3/balance", "2015-03-01", "300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			dto := decodeBody[BalanceDTO](t, rec)
			assert.Equal(t, tt.asOf, dto.AsOf)
			assertAmount(t, tt.expected, dto.Balance)
		})
	}
}

func TestGetBalance_InvalidDate(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodGet, "/api/policies/2/balance?as_of=03/01/2015", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPending(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodGet, "/api/policies/3/pending?as_of=2015-02-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[PendingDTO](t, rec).PendingCancellation)

	rec = do(t, router, http.MethodGet, "/api/policies/2/pending?as_of=2015-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[PendingDTO](t, rec).PendingCancellation)
}

func TestEvaluateCancellation(t *testing.T) {
	_, router := seededRouter(t)

	// WHEN: The first monthly invoice is still unpaid on its cancel date
	rec := do(t, router, http.MethodPost, "/api/policies/3/cancellation?as_of=2015-02-15", nil)

	// THEN: The policy is canceled effective that cancel date
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[CancellationDTO](t, rec)
	assert.True(t, dto.Canceled)
	assert.Equal(t, "Canceled", dto.Status)
	assert.Equal(t, "2015-02-15", dto.EffectiveDate)

	rec = do(t, router, http.MethodGet, "/api/policies/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Canceled", decodeBody[PolicyDTO](t, rec).Status)
}

func TestEvaluateCancellation_BeforeCancelDate(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodPost, "/api/policies/3/cancellation?as_of=2015-02-14", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[CancellationDTO](t, rec)
	assert.False(t, dto.Canceled)
	assert.Equal(t, "Active", dto.Status)
	assert.Equal(t, "2015-01-01", dto.EffectiveDate)
}

func TestViewPolicy(t *testing.T) {
	_, router := seededRouter(t)

	t.Run("paid quarterly policy", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/policies/2/view?as_of=2015-03-01", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		view := decodeBody[PolicyViewDTO](t, rec)
		assert.Equal(t, "Anna White", view.NamedInsured)
		assert.Equal(t, "Joe Lee", view.Agent)
		assert.Equal(t, "Active", view.Policy.Status)
		assertAmount(t, "0", view.Balance)
		assert.False(t, view.PendingCancellation)
		assert.Len(t, view.Invoices, 4)
		require.Len(t, view.Payments, 1)
		assert.Equal(t, "Anna White", view.Payments[0].ContactName)
		assert.False(t, view.Payments[0].Absorbed)
	})

	t.Run("lapsed monthly policy is canceled by viewing", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/policies/3/view?as_of=2015-03-01", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		view := decodeBody[PolicyViewDTO](t, rec)
		assert.Equal(t, "Ryan Bucket", view.NamedInsured)
		assert.Equal(t, "John Doe", view.Agent)
		assert.Equal(t, "Canceled", view.Policy.Status)
		assert.Equal(t, "2015-02-15", view.Policy.EffectiveDate)
		assertAmount(t, "300", view.Balance)
		assert.True(t, view.PendingCancellation)
		assert.Empty(t, view.Payments)
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestMakePayment_RejectedWhilePending(t *testing.T) {
	_, router := seededRouter(t)

	// GIVEN: Policy Three's first invoice was unpaid at its due date
	// WHEN: The named insured pays (contact defaulted)
	rec := do(t, router, http.MethodPost, "/api/policies/3/payments", MakePaymentRequest{
		Date:   "2015-02-10",
		Amount: "100",
	})

	// THEN: The gate refuses it and nothing is recorded
	require.Equal(t, http.StatusConflict, rec.Code)
	result := decodeBody[PaymentResultDTO](t, rec)
	assert.False(t, result.Accepted)
	assert.Nil(t, result.Payment)
	assert.Contains(t, result.Reason, "pending cancellation")

	rec = do(t, router, http.MethodGet, "/api/policies/3/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]PaymentDTO](t, rec))
}

func TestMakePayment_AgentAlwaysAccepted(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodPost, "/api/policies/3/payments", MakePaymentRequest{
		ContactID: johnDoeAgentID,
		Date:      "2015-02-10",
		Amount:    "100",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	result := decodeBody[PaymentResultDTO](t, rec)
	assert.True(t, result.Accepted)
	require.NotNil(t, result.Payment)
	assert.NotZero(t, result.Payment.ID)
	assert.Equal(t, "John Doe", result.Payment.ContactName)
	assert.Equal(t, "2015-02-10", result.Payment.TransactionDate)
	assertAmount(t, "100", result.Payment.AmountPaid)

	rec = do(t, router, http.MethodGet, "/api/policies/3/balance?as_of=2015-02-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertAmount(t, "100", decodeBody[BalanceDTO](t, rec).Balance)
}

func TestMakePayment_DefaultsToTodayAndInsured(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodPost, "/api/policies/2/payments", MakePaymentRequest{Amount: "400"})

	require.Equal(t, http.StatusCreated, rec.Code)
	result := decodeBody[PaymentResultDTO](t, rec)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "2015-03-01", result.Payment.TransactionDate)
	assert.Equal(t, "Anna White", result.Payment.ContactName)
}

func TestMakePayment_InvalidRequests(t *testing.T) {
	_, router := seededRouter(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"malformed body", "/api/policies/2/payments", "not an object", http.StatusBadRequest},
		{"missing amount", "/api/policies/2/payments", MakePaymentRequest{}, http.StatusBadRequest},
		{"non-numeric amount", "/api/policies/2/payments", MakePaymentRequest{Amount: "abc"}, http.StatusBadRequest},
		{"bad date", "/api/policies/2/payments", MakePaymentRequest{Amount: "10", Date: "2015/03/01"}, http.StatusBadRequest},
		{"negative amount", "/api/policies/2/payments", MakePaymentRequest{Amount: "-5"}, http.StatusBadRequest},
		{"no payer", "/api/policies/1/payments", MakePaymentRequest{Amount: "10"}, http.StatusBadRequest},
		{"unknown contact", "/api/policies/2/payments", MakePaymentRequest{ContactID: 999, Amount: "10"}, http.StatusNotFound},
		{"unknown policy", "/api/policies/42/payments", MakePaymentRequest{Amount: "10"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// BILLING SCHEDULE CHANGE
// =============================================================================

func TestChangeBillingSchedule(t *testing.T) {
	_, router := seededRouter(t)

	// WHEN: The annual policy moves to monthly billing over the same term
	rec := do(t, router, http.MethodPost, "/api/policies/1/billing-schedule", ChangeScheduleRequest{
		Schedule:      "Monthly",
		EffectiveAsOf: "2015-01-01",
	})

	// THEN: Twelve invoices carry the whole unpaid premium
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decodeBody[ScheduleChangeDTO](t, rec)
	assert.Equal(t, "Monthly", dto.Policy.BillingSchedule)
	assert.Equal(t, "2015-01-01", dto.Policy.EffectiveDate)
	assertAmount(t, "365", dto.Policy.AnnualPremium)
	require.Len(t, dto.Invoices, 12)

	total := decimal.Zero
	for _, inv := range dto.Invoices {
		total = total.Add(decimal.RequireFromString(inv.AmountDue))
	}
	assert.True(t, total.Equal(decimal.NewFromInt(365)), "invoices sum to %s", total)
}

func TestChangeBillingSchedule_Invalid(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodPost, "/api/policies/1/billing-schedule", ChangeScheduleRequest{Schedule: "Weekly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/policies/1/billing-schedule", ChangeScheduleRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/policies/42/billing-schedule", ChangeScheduleRequest{Schedule: "Annual"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Policy One is untouched
	rec = do(t, router, http.MethodGet, "/api/policies/1/invoices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]InvoiceDTO](t, rec), 1)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestSeedDatabase_Endpoint(t *testing.T) {
	h, _ := setupTestHandler(t)
	router := NewRouter(h)

	rec := do(t, router, http.MethodPost, "/api/admin/seed", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SeedResponse{Contacts: 6, Policies: 3, Invoices: 17, Payments: 1}, decodeBody[SeedResponse](t, rec))

	// Seeding twice starts over
	rec = do(t, router, http.MethodPost, "/api/admin/seed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/policies", nil)
	assert.Len(t, decodeBody[[]PolicyDTO](t, rec), 3)
}

func TestPurgeLogs(t *testing.T) {
	h, trail := setupTestHandler(t)
	router := NewRouter(h)
	_, err := Seed(context.Background(), h.Store, h.Audit, h.Clock)
	require.NoError(t, err)

	// GIVEN: Some audited activity
	rec := do(t, router, http.MethodPost, "/api/policies/2/payments", MakePaymentRequest{Amount: "400"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.FileExists(t, trail.PathFor(policyTwo))

	// WHEN: Wrong password
	rec = do(t, router, http.MethodPost, "/api/admin/logs/purge", PurgeLogsRequest{Password: "guess"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.FileExists(t, trail.PathFor(policyTwo))

	// WHEN: Missing password
	rec = do(t, router, http.MethodPost, "/api/admin/logs/purge", PurgeLogsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// WHEN: Right password
	rec = do(t, router, http.MethodPost, "/api/admin/logs/purge", PurgeLogsRequest{Password: "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, decodeBody[PurgeLogsResponse](t, rec).Removed, 1)
	_, err = os.Stat(trail.PathFor(policyTwo))
	assert.True(t, os.IsNotExist(err))
}

func TestRunSweep(t *testing.T) {
	_, router := seededRouter(t)

	rec := do(t, router, http.MethodPost, "/api/admin/sweep", nil)

	// THEN: Both unpaid policies lapsed by 2015-03-01; the paid one did not
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[SweepResultDTO](t, rec)
	assert.Equal(t, "2015-03-01", result.AsOf)
	assert.Equal(t, 3, result.Evaluated)
	assert.Equal(t, []int64{policyOne, policyThree}, result.Canceled)
	assert.Zero(t, result.Failed)

	// A second sweep skips the canceled policies
	rec = do(t, router, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result = decodeBody[SweepResultDTO](t, rec)
	assert.Equal(t, 1, result.Evaluated)
	assert.Empty(t, result.Canceled)
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := seededRouter(t)

	do(t, router, http.MethodGet, "/api/policies/2/balance", nil)
	do(t, router, http.MethodPost, "/api/policies/3/payments", MakePaymentRequest{Date: "2015-02-10", Amount: "100"})

	rec := do(t, router, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `policy_accounting_http_requests_total{method="GET",route="/api/policies/{id}/balance",status="200"} 1`)
	assert.Contains(t, body, `policy_accounting_payments_admissions_total{outcome="rejected",role="Named Insured"} 1`)
	assert.NotContains(t, body, `route="/metrics"`)
}
