package accounting

import (
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT ADMISSION GATE
// =============================================================================

// PaymentGate decides whether a proposed payment may be recorded.
//
// Agents may always pay. Anyone else is refused while the policy is pending
// cancellation as of the proposed date.
type PaymentGate struct {
	Evaluator CancellationEvaluator
}

// Admission is the gate's verdict. Rejections are results, not errors.
type Admission struct {
	Accepted bool
	Payment  Payment // set when accepted; ID assigned once persisted
	Reason   error   // *PaymentRejectedError when rejected
}

// Admit evaluates a payment of amount by payer on date for policyID.
// It returns an error only for invalid input.
func (g PaymentGate) Admit(policyID PolicyID, payer Contact, date Date, amount decimal.Decimal) (Admission, error) {
	if !amount.IsPositive() {
		return Admission{}, errors.Wrapf(ErrInvalidPaymentAmount, "amount %s", amount)
	}

	if payer.Role != RoleAgent {
		if pastDue, pending := g.Evaluator.PastDue(date); pending {
			return Admission{
				Reason: &PaymentRejectedError{
					PolicyID:  policyID,
					ContactID: payer.ID,
					Role:      payer.Role,
					PastDue:   pastDue,
				},
			}, nil
		}
	}

	return Admission{
		Accepted: true,
		Payment: Payment{
			PolicyID:        policyID,
			ContactID:       payer.ID,
			AmountPaid:      amount,
			TransactionDate: date,
		},
	}, nil
}
