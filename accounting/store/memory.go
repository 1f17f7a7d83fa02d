// Package store provides in-process accounting.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/warp/policy-accounting/accounting"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	contacts map[accounting.ContactID]accounting.Contact
	policies map[accounting.PolicyID]accounting.Policy
	invoices map[accounting.InvoiceID]accounting.Invoice
	payments map[accounting.PaymentID]accounting.Payment
	seq      sequences
}

// sequences hands out IDs the way an autoincrement column would.
type sequences struct {
	contact accounting.ContactID
	policy  accounting.PolicyID
	invoice accounting.InvoiceID
	payment accounting.PaymentID
}

func NewMemory() *Memory {
	return &Memory{
		contacts: make(map[accounting.ContactID]accounting.Contact),
		policies: make(map[accounting.PolicyID]accounting.Policy),
		invoices: make(map[accounting.InvoiceID]accounting.Invoice),
		payments: make(map[accounting.PaymentID]accounting.Payment),
	}
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetPolicy(_ context.Context, id accounting.PolicyID) (accounting.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return accounting.Policy{}, accounting.ErrPolicyNotFound
	}
	return p, nil
}

func (m *Memory) ListPolicies(_ context.Context) ([]accounting.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := lo.Values(m.policies)
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetContact(_ context.Context, id accounting.ContactID) (accounting.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok {
		return accounting.Contact{}, accounting.ErrContactNotFound
	}
	return c, nil
}

func (m *Memory) ListContacts(_ context.Context) ([]accounting.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := lo.Values(m.contacts)
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) ListInvoices(_ context.Context, policyID accounting.PolicyID, filter accounting.InvoiceFilter) ([]accounting.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvoicesLocked(policyID, filter), nil
}

func (m *Memory) listInvoicesLocked(policyID accounting.PolicyID, filter accounting.InvoiceFilter) []accounting.Invoice {
	result := lo.Filter(lo.Values(m.invoices), func(inv accounting.Invoice, _ int) bool {
		return inv.PolicyID == policyID && filter.Matches(inv)
	})
	sort.Slice(result, func(i, j int) bool {
		ki, kj := filter.OrderBy.SortKey(result[i]), filter.OrderBy.SortKey(result[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) ListPayments(_ context.Context, policyID accounting.PolicyID, filter accounting.PaymentFilter) ([]accounting.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := lo.Filter(lo.Values(m.payments), func(p accounting.Payment, _ int) bool {
		return p.PolicyID == policyID && filter.Matches(p)
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TransactionDate.Equal(result[j].TransactionDate) {
			return result[i].TransactionDate.Before(result[j].TransactionDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(accounting.Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	contacts map[accounting.ContactID]accounting.Contact
	policies map[accounting.PolicyID]accounting.Policy
	invoices map[accounting.InvoiceID]accounting.Invoice
	payments map[accounting.PaymentID]accounting.Payment
	seq      sequences
}

func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		contacts: lo.Assign(m.contacts),
		policies: lo.Assign(m.policies),
		invoices: lo.Assign(m.invoices),
		payments: lo.Assign(m.payments),
		seq:      m.seq,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.contacts = s.contacts
	m.policies = s.policies
	m.invoices = s.invoices
	m.payments = s.payments
	m.seq = s.seq
}

// Reset drops every record and restarts the ID sequences.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restore(NewMemory().snapshot())
	return nil
}

// txMemoryView is the Writer handed to WithTx callbacks. The parent lock is
// already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) AddContact(_ context.Context, c accounting.Contact) (accounting.Contact, error) {
	tv.parent.seq.contact++
	c.ID = tv.parent.seq.contact
	tv.parent.contacts[c.ID] = c
	return c, nil
}

func (tv *txMemoryView) AddPolicy(_ context.Context, p accounting.Policy) (accounting.Policy, error) {
	tv.parent.seq.policy++
	p.ID = tv.parent.seq.policy
	if p.Status == "" {
		p.Status = accounting.StatusActive
	}
	tv.parent.policies[p.ID] = p
	return p, nil
}

func (tv *txMemoryView) UpdatePolicy(_ context.Context, p accounting.Policy) error {
	if _, ok := tv.parent.policies[p.ID]; !ok {
		return accounting.ErrPolicyNotFound
	}
	tv.parent.policies[p.ID] = p
	return nil
}

func (tv *txMemoryView) AddInvoices(_ context.Context, invoices []accounting.Invoice) ([]accounting.Invoice, error) {
	stored := make([]accounting.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if _, ok := tv.parent.policies[inv.PolicyID]; !ok {
			return nil, accounting.ErrPolicyNotFound
		}
		tv.parent.seq.invoice++
		inv.ID = tv.parent.seq.invoice
		if inv.Status == "" {
			inv.Status = accounting.InvoiceActive
		}
		tv.parent.invoices[inv.ID] = inv
		stored = append(stored, inv)
	}
	return stored, nil
}

func (tv *txMemoryView) DeleteInvoice(_ context.Context, id accounting.InvoiceID) error {
	if _, ok := tv.parent.invoices[id]; !ok {
		return accounting.ErrInvoiceNotFound
	}
	delete(tv.parent.invoices, id)
	return nil
}

func (tv *txMemoryView) SupersedeInvoice(_ context.Context, id accounting.InvoiceID) error {
	inv, ok := tv.parent.invoices[id]
	if !ok {
		return accounting.ErrInvoiceNotFound
	}
	inv.Status = accounting.InvoiceSuperseded
	tv.parent.invoices[id] = inv
	return nil
}

func (tv *txMemoryView) AddPayment(_ context.Context, p accounting.Payment) (accounting.Payment, error) {
	if _, ok := tv.parent.policies[p.PolicyID]; !ok {
		return accounting.Payment{}, accounting.ErrPolicyNotFound
	}
	if _, ok := tv.parent.contacts[p.ContactID]; !ok {
		return accounting.Payment{}, accounting.ErrContactNotFound
	}
	tv.parent.seq.payment++
	p.ID = tv.parent.seq.payment
	tv.parent.payments[p.ID] = p
	return p, nil
}
