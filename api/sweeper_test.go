package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-accounting/accounting"
)

func TestSweepCancellations(t *testing.T) {
	h, _ := seededRouter(t)
	ctx := context.Background()

	// WHEN: Swept before any cancel date has passed
	result, err := h.SweepCancellations(ctx, accounting.NewDate(2015, time.February, 14))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Evaluated)
	assert.Empty(t, result.Canceled)

	// WHEN: Swept the day the first invoices lapse
	result, err = h.SweepCancellations(ctx, accounting.NewDate(2015, time.February, 15))
	require.NoError(t, err)
	assert.Equal(t, []accounting.PolicyID{policyOne, policyThree}, result.Canceled)

	policy, err := h.Store.GetPolicy(ctx, policyThree)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusCanceled, policy.Status)
	assert.Equal(t, "2015-02-15", policy.EffectiveDate.String())

	policy, err = h.Store.GetPolicy(ctx, policyTwo)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusActive, policy.Status)
}

func TestSweeper_StartStop(t *testing.T) {
	h, _ := setupTestHandler(t)
	s := NewSweeper(h, "@every 1h")

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.False(t, s.NextRun().IsZero())

	// Starting twice is a no-op
	require.NoError(t, s.Start())

	s.Stop()
	assert.False(t, s.Running())
	assert.True(t, s.NextRun().IsZero())

	// Stopping twice is a no-op
	s.Stop()
}

func TestSweeper_Disabled(t *testing.T) {
	h, _ := setupTestHandler(t)
	s := NewSweeper(h, "@daily")
	s.Enabled = false

	require.NoError(t, s.Start())
	assert.False(t, s.Running())
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	h, _ := setupTestHandler(t)
	s := NewSweeper(h, "every tuesday")

	err := s.Start()

	assert.Error(t, err)
	assert.False(t, s.Running())
}
