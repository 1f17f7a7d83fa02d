/*
seed.go - Demo data loader

PURPOSE:
  Resets the store and loads a small book of business for demos and manual
  testing: six contacts and three policies on different billing schedules,
  with one payment already received.

DATA:
  Contacts:
    John Doe (Agent), John Doe (Named Insured), Bob Smith (Agent),
    Anna White (Named Insured), Joe Lee (Agent), Ryan Bucket (Named Insured)

  Policies:
    Policy One    2015-01-01  365   Annual     agent Bob Smith
    Policy Two    2015-02-01  1600  Quarterly  insured Anna White, agent Joe Lee
    Policy Three  2015-01-01  1200  Monthly    insured Ryan Bucket, agent John Doe

  Payments:
    Policy Two    400 by Anna White on 2015-02-01

AUDIT:
  The audit trail is switched off while loading so it only records real
  activity, then restored to its prior state.

SEE ALSO:
  - handlers.go: SeedDatabase endpoint
  - cmd/server/main.go: seed.on_start
*/
package api

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/warp/policy-accounting/accounting"
)

var (
	johnDoeAgent   = accounting.Contact{Name: "John Doe", Role: accounting.RoleAgent}
	johnDoeInsured = accounting.Contact{Name: "John Doe", Role: accounting.RoleNamedInsured}
	bobSmith       = accounting.Contact{Name: "Bob Smith", Role: accounting.RoleAgent}
	annaWhite      = accounting.Contact{Name: "Anna White", Role: accounting.RoleNamedInsured}
	joeLee         = accounting.Contact{Name: "Joe Lee", Role: accounting.RoleAgent}
	ryanBucket     = accounting.Contact{Name: "Ryan Bucket", Role: accounting.RoleNamedInsured}
)

var seedContacts = []accounting.Contact{
	johnDoeAgent, johnDoeInsured, bobSmith, annaWhite, joeLee, ryanBucket,
}

type seedPolicy struct {
	name      string
	effective accounting.Date
	premium   int64
	schedule  accounting.BillingSchedule
	insured   *accounting.Contact
	agent     *accounting.Contact
}

var seedPolicies = []seedPolicy{
	{
		name:      "Policy One",
		effective: accounting.NewDate(2015, time.January, 1),
		premium:   365,
		schedule:  accounting.ScheduleAnnual,
		agent:     &bobSmith,
	},
	{
		name:      "Policy Two",
		effective: accounting.NewDate(2015, time.February, 1),
		premium:   1600,
		schedule:  accounting.ScheduleQuarterly,
		insured:   &annaWhite,
		agent:     &joeLee,
	},
	{
		name:      "Policy Three",
		effective: accounting.NewDate(2015, time.January, 1),
		premium:   1200,
		schedule:  accounting.ScheduleMonthly,
		insured:   &ryanBucket,
		agent:     &johnDoeAgent,
	},
}

type seedPayment struct {
	policy string
	payer  accounting.Contact
	amount int64
	date   accounting.Date
}

var seedPayments = []seedPayment{
	{policy: "Policy Two", payer: annaWhite, amount: 400, date: accounting.NewDate(2015, time.February, 1)},
}

// Seed clears store and loads the demo data. trail may be nil.
func Seed(ctx context.Context, store Store, trail AuditTrail, clock func() accounting.Date) (SeedResponse, error) {
	if trail != nil && trail.Enabled() {
		trail.Disable()
		defer trail.Enable()
	}

	if err := store.Reset(ctx); err != nil {
		return SeedResponse{}, errors.Wrap(err, "reset store")
	}

	contactIDs := make(map[accounting.Contact]accounting.ContactID, len(seedContacts))
	policyIDs := make(map[string]accounting.PolicyID, len(seedPolicies))

	err := store.WithTx(ctx, func(w accounting.Writer) error {
		for _, c := range seedContacts {
			stored, err := w.AddContact(ctx, c)
			if err != nil {
				return errors.Wrapf(err, "add contact %s", c.Name)
			}
			contactIDs[c] = stored.ID
		}
		for _, sp := range seedPolicies {
			p := accounting.Policy{
				Name:            sp.name,
				EffectiveDate:   sp.effective,
				AnnualPremium:   accounting.NewMoney(sp.premium),
				BillingSchedule: sp.schedule,
				Status:          accounting.StatusActive,
			}
			if sp.insured != nil {
				p.NamedInsured = contactIDs[*sp.insured]
			}
			if sp.agent != nil {
				p.Agent = contactIDs[*sp.agent]
			}
			stored, err := w.AddPolicy(ctx, p)
			if err != nil {
				return errors.Wrapf(err, "add policy %s", sp.name)
			}
			policyIDs[sp.name] = stored.ID
		}
		return nil
	})
	if err != nil {
		return SeedResponse{}, err
	}

	resp := SeedResponse{Contacts: len(seedContacts), Policies: len(seedPolicies)}

	// Opening a session generates each policy's invoices.
	for _, sp := range seedPolicies {
		pa, err := accounting.New(ctx, store, trail, policyIDs[sp.name], accounting.WithClock(clock))
		if err != nil {
			return SeedResponse{}, errors.Wrapf(err, "generate invoices for %s", sp.name)
		}
		invoices, err := pa.Invoices(ctx)
		if err != nil {
			return SeedResponse{}, err
		}
		resp.Invoices += len(invoices)
	}

	err = store.WithTx(ctx, func(w accounting.Writer) error {
		for _, sp := range seedPayments {
			_, err := w.AddPayment(ctx, accounting.Payment{
				PolicyID:        policyIDs[sp.policy],
				ContactID:       contactIDs[sp.payer],
				AmountPaid:      accounting.NewMoney(sp.amount),
				TransactionDate: sp.date,
			})
			if err != nil {
				return errors.Wrapf(err, "add payment on %s", sp.policy)
			}
		}
		return nil
	})
	if err != nil {
		return SeedResponse{}, err
	}
	resp.Payments = len(seedPayments)

	return resp, nil
}
