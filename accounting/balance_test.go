package accounting_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/policy-accounting/accounting"
)

func payment(id accounting.PaymentID, amount string, on accounting.Date) accounting.Payment {
	return accounting.Payment{ID: id, PolicyID: 1, ContactID: 1, AmountPaid: money(amount), TransactionDate: on}
}

func TestBalanceAsOf_BeforeFirstBill_IsZero(t *testing.T) {
	invoices := generate(t, accounting.ScheduleQuarterly, "1200", date(2015, time.January, 1))

	assertMoney(t, "0", accounting.BalanceAsOf(invoices, nil, date(2014, time.December, 31)))
}

func TestBalanceAsOf_OnlyBilledInvoicesCount(t *testing.T) {
	// GIVEN: Quarterly 1200 from 2015-01-01
	// THEN: Balance steps up by 300 on each bill date, inclusive
	invoices := generate(t, accounting.ScheduleQuarterly, "1200", date(2015, time.January, 1))

	assertMoney(t, "300", accounting.BalanceAsOf(invoices, nil, date(2015, time.January, 1)))
	assertMoney(t, "300", accounting.BalanceAsOf(invoices, nil, date(2015, time.March, 31)))
	assertMoney(t, "600", accounting.BalanceAsOf(invoices, nil, date(2015, time.April, 1)))
	assertMoney(t, "1200", accounting.BalanceAsOf(invoices, nil, date(2015, time.October, 1)))
}

func TestBalanceAsOf_PaymentOnBillDate_Settles(t *testing.T) {
	// GIVEN: Quarterly 1600 from 2015-02-01 with 400 paid on 2015-02-01
	invoices := generate(t, accounting.ScheduleQuarterly, "1600", date(2015, time.February, 1))
	payments := []accounting.Payment{payment(1, "400", date(2015, time.February, 1))}

	balance := accounting.BalanceAsOf(invoices, payments, date(2015, time.February, 1))

	assertMoney(t, "0", balance)
	assert.True(t, accounting.IsSettled(balance))
}

func TestBalanceAsOf_FuturePaymentIgnored(t *testing.T) {
	invoices := generate(t, accounting.ScheduleAnnual, "1200", date(2015, time.January, 1))
	payments := []accounting.Payment{payment(1, "1200", date(2015, time.March, 1))}

	assertMoney(t, "1200", accounting.BalanceAsOf(invoices, payments, date(2015, time.February, 1)))
	assertMoney(t, "0", accounting.BalanceAsOf(invoices, payments, date(2015, time.March, 1)))
}

func TestBalanceAsOf_Overpayment_IsCredit(t *testing.T) {
	invoices := generate(t, accounting.ScheduleAnnual, "100", date(2015, time.January, 1))
	payments := []accounting.Payment{payment(1, "150", date(2015, time.January, 1))}

	balance := accounting.BalanceAsOf(invoices, payments, date(2015, time.January, 1))

	assertMoney(t, "-50", balance)
	assert.True(t, accounting.IsSettled(balance))
}

func TestBalanceAsOf_Monotonic(t *testing.T) {
	// More payments never raise the balance; later dates never lower it
	// while no payment falls in between.
	invoices := generate(t, accounting.ScheduleMonthly, "1200", date(2015, time.January, 1))
	payments := []accounting.Payment{payment(1, "100", date(2015, time.January, 5))}
	more := append(payments, payment(2, "50", date(2015, time.January, 6)))

	asOf := date(2015, time.June, 1)
	assert.True(t, accounting.BalanceAsOf(invoices, more, asOf).LessThanOrEqual(accounting.BalanceAsOf(invoices, payments, asOf)))

	prev := accounting.BalanceAsOf(invoices, more, date(2015, time.February, 1))
	for d := date(2015, time.February, 1); d.Before(date(2016, time.January, 1)); d = d.AddDays(7) {
		cur := accounting.BalanceAsOf(invoices, more, d)
		assert.True(t, cur.GreaterThanOrEqual(prev), "balance decreased at %s", d)
		prev = cur
	}
}
