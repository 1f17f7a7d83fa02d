package accounting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/policy-accounting/accounting"
)

func TestMustParseMoney(t *testing.T) {
	assertMoney(t, "1200.50", accounting.MustParseMoney("1200.50"))

	// Malformed amounts never silently become zero
	assert.Panics(t, func() { accounting.MustParseMoney("12,00") })
	assert.Panics(t, func() { accounting.MustParseMoney("") })
}
