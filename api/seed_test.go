package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-accounting/accounting"
	"github.com/warp/policy-accounting/store/sqlite"
)

func TestSeed_LoadsDemoBook(t *testing.T) {
	h, trail := setupTestHandler(t)
	ctx := context.Background()

	resp, err := Seed(ctx, h.Store, h.Audit, h.Clock)

	require.NoError(t, err)
	assert.Equal(t, SeedResponse{Contacts: 6, Policies: 3, Invoices: 17, Payments: 1}, resp)

	policies, err := h.Store.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 3)

	two := policies[1]
	assert.Equal(t, accounting.ScheduleQuarterly, two.BillingSchedule)
	anna, err := h.Store.GetContact(ctx, two.NamedInsured)
	require.NoError(t, err)
	assert.Equal(t, "Anna White", anna.Name)
	joe, err := h.Store.GetContact(ctx, two.Agent)
	require.NoError(t, err)
	assert.Equal(t, "Joe Lee", joe.Name)
	assert.Zero(t, policies[0].NamedInsured, "Policy One has an agent only")

	payments, err := h.Store.ListPayments(ctx, two.ID, accounting.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, anna.ID, payments[0].ContactID)
	assert.Equal(t, "2015-02-01", payments[0].TransactionDate.String())

	// THEN: Nothing was audited and the trail is back on
	assert.True(t, trail.Enabled())
	matches, err := filepath.Glob(filepath.Join(trail.Dir(), "*.log"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSeed_RespectsDisabledTrail(t *testing.T) {
	h, trail := setupTestHandler(t)
	trail.Disable()

	_, err := Seed(context.Background(), h.Store, h.Audit, h.Clock)

	require.NoError(t, err)
	assert.False(t, trail.Enabled())
}

func TestSeed_SQLite(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	_, err = Seed(ctx, db, nil, testClock)
	require.NoError(t, err)
	// Reseeding replaces rather than duplicates
	resp, err := Seed(ctx, db, nil, testClock)
	require.NoError(t, err)
	assert.Equal(t, 17, resp.Invoices)

	policies, err := db.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 3)
	assert.Equal(t, accounting.PolicyID(1), policies[0].ID)

	invoices, err := db.ListInvoices(ctx, policies[2].ID, accounting.ActiveInvoices())
	require.NoError(t, err)
	assert.Len(t, invoices, 12)
}
