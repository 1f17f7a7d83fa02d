/*
Package sqlite provides a SQLite-backed implementation of accounting.Store.

PURPOSE:
  Persists contacts, policies, invoices and payments. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  accounting.Store:  Reads plus the WithTx write boundary
  accounting.Writer: Mutations, available only inside WithTx

KEY TABLES:
  contacts:  Agents and named insureds
  policies:  One row per policy; schedule, premium, status, absorption mark
  invoices:  Installments; status 'Active' or 'Superseded'
  payments:  Immutable payment records

STORAGE FORMATS:
  Dates are TEXT in YYYY-MM-DD form, so lexicographic comparison in SQL is
  chronological. Money is TEXT holding the exact decimal string; SQLite's
  REAL would lose cents.

INDEXES:
  - idx_invoices_policy_bill:   Balance math (hot path)
  - idx_payments_policy_date:   Balance math (hot path)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Every write goes through WithTx, which
  holds the write lock for the whole transaction, so two sessions on the same
  policy are serialized here. In production with PostgreSQL, database-level
  concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/policies.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  pa, err := accounting.New(ctx, store, auditLog, policyID)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - accounting/store.go: Interface definitions
  - accounting/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-accounting/accounting"
)

// Store implements accounting.Store using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite admits a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		role TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		annual_premium TEXT NOT NULL,
		billing_schedule TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Active',
		named_insured INTEGER REFERENCES contacts(id),
		agent INTEGER REFERENCES contacts(id),
		absorbed_through INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		policy_id INTEGER NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		bill_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		cancel_date TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Active'
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_policy_bill
		ON invoices(policy_id, status, bill_date);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		policy_id INTEGER NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		contact_id INTEGER NOT NULL REFERENCES contacts(id),
		amount_paid TEXT NOT NULL,
		transaction_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_policy_date
		ON payments(policy_id, transaction_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROWS
// =============================================================================

type contactRow struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Role string `db:"role"`
}

func (r contactRow) toContact() accounting.Contact {
	return accounting.Contact{ID: accounting.ContactID(r.ID), Name: r.Name, Role: accounting.ContactRole(r.Role)}
}

type policyRow struct {
	ID              int64         `db:"id"`
	Name            string        `db:"name"`
	EffectiveDate   string        `db:"effective_date"`
	AnnualPremium   string        `db:"annual_premium"`
	BillingSchedule string        `db:"billing_schedule"`
	Status          string        `db:"status"`
	NamedInsured    sql.NullInt64 `db:"named_insured"`
	Agent           sql.NullInt64 `db:"agent"`
	AbsorbedThrough int64         `db:"absorbed_through"`
}

func newPolicyRow(p accounting.Policy) policyRow {
	status := p.Status
	if status == "" {
		status = accounting.StatusActive
	}
	return policyRow{
		ID:              int64(p.ID),
		Name:            p.Name,
		EffectiveDate:   p.EffectiveDate.String(),
		AnnualPremium:   p.AnnualPremium.String(),
		BillingSchedule: p.BillingSchedule.String(),
		Status:          string(status),
		NamedInsured:    nullID(int64(p.NamedInsured)),
		Agent:           nullID(int64(p.Agent)),
		AbsorbedThrough: int64(p.AbsorbedThrough),
	}
}

func (r policyRow) toPolicy() (accounting.Policy, error) {
	effective, err := accounting.ParseDate(r.EffectiveDate)
	if err != nil {
		return accounting.Policy{}, errors.Wrapf(err, "policy %d effective_date", r.ID)
	}
	premium, err := decimal.NewFromString(r.AnnualPremium)
	if err != nil {
		return accounting.Policy{}, errors.Wrapf(err, "policy %d annual_premium", r.ID)
	}
	// Unrecognized names load as ScheduleUnknown; invoice generation reports it.
	schedule, _ := accounting.ParseBillingSchedule(r.BillingSchedule)
	return accounting.Policy{
		ID:              accounting.PolicyID(r.ID),
		Name:            r.Name,
		EffectiveDate:   effective,
		AnnualPremium:   premium,
		BillingSchedule: schedule,
		Status:          accounting.PolicyStatus(r.Status),
		NamedInsured:    accounting.ContactID(r.NamedInsured.Int64),
		Agent:           accounting.ContactID(r.Agent.Int64),
		AbsorbedThrough: accounting.PaymentID(r.AbsorbedThrough),
	}, nil
}

type invoiceRow struct {
	ID         int64  `db:"id"`
	PolicyID   int64  `db:"policy_id"`
	BillDate   string `db:"bill_date"`
	DueDate    string `db:"due_date"`
	CancelDate string `db:"cancel_date"`
	AmountDue  string `db:"amount_due"`
	Status     string `db:"status"`
}

func newInvoiceRow(inv accounting.Invoice) invoiceRow {
	status := inv.Status
	if status == "" {
		status = accounting.InvoiceActive
	}
	return invoiceRow{
		PolicyID:   int64(inv.PolicyID),
		BillDate:   inv.BillDate.String(),
		DueDate:    inv.DueDate.String(),
		CancelDate: inv.CancelDate.String(),
		AmountDue:  inv.AmountDue.String(),
		Status:     string(status),
	}
}

func (r invoiceRow) toInvoice() (accounting.Invoice, error) {
	var dates [3]accounting.Date
	for i, raw := range []string{r.BillDate, r.DueDate, r.CancelDate} {
		d, err := accounting.ParseDate(raw)
		if err != nil {
			return accounting.Invoice{}, errors.Wrapf(err, "invoice %d", r.ID)
		}
		dates[i] = d
	}
	amount, err := decimal.NewFromString(r.AmountDue)
	if err != nil {
		return accounting.Invoice{}, errors.Wrapf(err, "invoice %d amount_due", r.ID)
	}
	return accounting.Invoice{
		ID:         accounting.InvoiceID(r.ID),
		PolicyID:   accounting.PolicyID(r.PolicyID),
		BillDate:   dates[0],
		DueDate:    dates[1],
		CancelDate: dates[2],
		AmountDue:  amount,
		Status:     accounting.InvoiceStatus(r.Status),
	}, nil
}

type paymentRow struct {
	ID              int64  `db:"id"`
	PolicyID        int64  `db:"policy_id"`
	ContactID       int64  `db:"contact_id"`
	AmountPaid      string `db:"amount_paid"`
	TransactionDate string `db:"transaction_date"`
}

func (r paymentRow) toPayment() (accounting.Payment, error) {
	on, err := accounting.ParseDate(r.TransactionDate)
	if err != nil {
		return accounting.Payment{}, errors.Wrapf(err, "payment %d transaction_date", r.ID)
	}
	amount, err := decimal.NewFromString(r.AmountPaid)
	if err != nil {
		return accounting.Payment{}, errors.Wrapf(err, "payment %d amount_paid", r.ID)
	}
	return accounting.Payment{
		ID:              accounting.PaymentID(r.ID),
		PolicyID:        accounting.PolicyID(r.PolicyID),
		ContactID:       accounting.ContactID(r.ContactID),
		AmountPaid:      amount,
		TransactionDate: on,
	}, nil
}

// =============================================================================
// READS (accounting.Store interface)
// =============================================================================

const (
	contactColumns = `id, name, role`
	policyColumns  = `id, name, effective_date, annual_premium, billing_schedule, status,
		named_insured, agent, absorbed_through`
	invoiceColumns = `id, policy_id, bill_date, due_date, cancel_date, amount_due, status`
	paymentColumns = `id, policy_id, contact_id, amount_paid, transaction_date`
)

// GetPolicy retrieves a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id accounting.PolicyID) (accounting.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row policyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return accounting.Policy{}, accounting.ErrPolicyNotFound
	}
	if err != nil {
		return accounting.Policy{}, errors.Wrap(err, "failed to get policy")
	}
	return row.toPolicy()
}

// ListPolicies returns all policies ordered by ID.
func (s *Store) ListPolicies(ctx context.Context) ([]accounting.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []policyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+policyColumns+` FROM policies ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "failed to list policies")
	}

	policies := make([]accounting.Policy, 0, len(rows))
	for _, row := range rows {
		p, err := row.toPolicy()
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// GetContact retrieves a contact by ID.
func (s *Store) GetContact(ctx context.Context, id accounting.ContactID) (accounting.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row contactRow
	err := s.db.GetContext(ctx, &row, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return accounting.Contact{}, accounting.ErrContactNotFound
	}
	if err != nil {
		return accounting.Contact{}, errors.Wrap(err, "failed to get contact")
	}
	return row.toContact(), nil
}

// ListContacts returns all contacts ordered by ID.
func (s *Store) ListContacts(ctx context.Context) ([]accounting.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+contactColumns+` FROM contacts ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "failed to list contacts")
	}

	contacts := make([]accounting.Contact, len(rows))
	for i, row := range rows {
		contacts[i] = row.toContact()
	}
	return contacts, nil
}

// ListInvoices returns a policy's invoices matching filter.
func (s *Store) ListInvoices(ctx context.Context, policyID accounting.PolicyID, filter accounting.InvoiceFilter) ([]accounting.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"policy_id = ?"}
	args := []any{policyID}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	for column, bound := range map[string]*accounting.Date{
		"bill_date":   filter.BilledOnOrBefore,
		"due_date":    filter.DueOnOrBefore,
		"cancel_date": filter.CancelOnOrBefore,
	} {
		if bound != nil {
			where = append(where, column+" <= ?")
			args = append(args, bound.String())
		}
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + orderColumn(filter.OrderBy) + ` ASC, id ASC`

	var rows []invoiceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query invoices")
	}

	invoices := make([]accounting.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.toInvoice()
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func orderColumn(o accounting.InvoiceOrder) string {
	switch o {
	case accounting.OrderByDueDate:
		return "due_date"
	case accounting.OrderByCancelDate:
		return "cancel_date"
	default:
		return "bill_date"
	}
}

// ListPayments returns a policy's payments matching filter, ordered by
// transaction date then ID.
func (s *Store) ListPayments(ctx context.Context, policyID accounting.PolicyID, filter accounting.PaymentFilter) ([]accounting.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE policy_id = ? AND id > ?`
	args := []any{policyID, filter.AfterID}
	if filter.OnOrBefore != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, filter.OnOrBefore.String())
	}
	query += ` ORDER BY transaction_date ASC, id ASC`

	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query payments")
	}

	payments := make([]accounting.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := row.toPayment()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// =============================================================================
// TRANSACTIONAL STORE (accounting.Writer interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(accounting.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) exists(ctx context.Context, table string, id int64) (bool, error) {
	var count int
	err := ts.tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id)
	return count > 0, err
}

func (ts *txStore) AddContact(ctx context.Context, c accounting.Contact) (accounting.Contact, error) {
	res, err := ts.tx.ExecContext(ctx, `INSERT INTO contacts (name, role) VALUES (?, ?)`, c.Name, string(c.Role))
	if err != nil {
		return accounting.Contact{}, errors.Wrap(err, "failed to insert contact")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return accounting.Contact{}, err
	}
	c.ID = accounting.ContactID(id)
	return c, nil
}

func (ts *txStore) AddPolicy(ctx context.Context, p accounting.Policy) (accounting.Policy, error) {
	row := newPolicyRow(p)
	res, err := ts.tx.NamedExecContext(ctx, `
		INSERT INTO policies
		(name, effective_date, annual_premium, billing_schedule, status, named_insured, agent, absorbed_through)
		VALUES (:name, :effective_date, :annual_premium, :billing_schedule, :status, :named_insured, :agent, :absorbed_through)
	`, row)
	if err != nil {
		if isForeignKeyError(err) {
			return accounting.Policy{}, accounting.ErrContactNotFound
		}
		return accounting.Policy{}, errors.Wrap(err, "failed to insert policy")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return accounting.Policy{}, err
	}
	p.ID = accounting.PolicyID(id)
	p.Status = accounting.PolicyStatus(row.Status)
	return p, nil
}

func (ts *txStore) UpdatePolicy(ctx context.Context, p accounting.Policy) error {
	res, err := ts.tx.NamedExecContext(ctx, `
		UPDATE policies SET
			name = :name,
			effective_date = :effective_date,
			annual_premium = :annual_premium,
			billing_schedule = :billing_schedule,
			status = :status,
			named_insured = :named_insured,
			agent = :agent,
			absorbed_through = :absorbed_through
		WHERE id = :id
	`, newPolicyRow(p))
	if err != nil {
		return errors.Wrap(err, "failed to update policy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return accounting.ErrPolicyNotFound
	}
	return nil
}

func (ts *txStore) AddInvoices(ctx context.Context, invoices []accounting.Invoice) ([]accounting.Invoice, error) {
	stored := make([]accounting.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		row := newInvoiceRow(inv)
		res, err := ts.tx.NamedExecContext(ctx, `
			INSERT INTO invoices (policy_id, bill_date, due_date, cancel_date, amount_due, status)
			VALUES (:policy_id, :bill_date, :due_date, :cancel_date, :amount_due, :status)
		`, row)
		if err != nil {
			if isForeignKeyError(err) {
				return nil, accounting.ErrPolicyNotFound
			}
			return nil, errors.Wrap(err, "failed to insert invoice")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		inv.ID = accounting.InvoiceID(id)
		inv.Status = accounting.InvoiceStatus(row.Status)
		stored = append(stored, inv)
	}
	return stored, nil
}

func (ts *txStore) DeleteInvoice(ctx context.Context, id accounting.InvoiceID) error {
	res, err := ts.tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete invoice")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return accounting.ErrInvoiceNotFound
	}
	return nil
}

func (ts *txStore) SupersedeInvoice(ctx context.Context, id accounting.InvoiceID) error {
	res, err := ts.tx.ExecContext(ctx, `UPDATE invoices SET status = ? WHERE id = ?`,
		string(accounting.InvoiceSuperseded), id)
	if err != nil {
		return errors.Wrap(err, "failed to supersede invoice")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return accounting.ErrInvoiceNotFound
	}
	return nil
}

func (ts *txStore) AddPayment(ctx context.Context, p accounting.Payment) (accounting.Payment, error) {
	ok, err := ts.exists(ctx, "policies", int64(p.PolicyID))
	if err != nil {
		return accounting.Payment{}, err
	}
	if !ok {
		return accounting.Payment{}, accounting.ErrPolicyNotFound
	}
	if ok, err = ts.exists(ctx, "contacts", int64(p.ContactID)); err != nil {
		return accounting.Payment{}, err
	}
	if !ok {
		return accounting.Payment{}, accounting.ErrContactNotFound
	}

	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO payments (policy_id, contact_id, amount_paid, transaction_date)
		VALUES (?, ?, ?, ?)
	`, p.PolicyID, p.ContactID, p.AmountPaid.String(), p.TransactionDate.String())
	if err != nil {
		return accounting.Payment{}, errors.Wrap(err, "failed to insert payment")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return accounting.Payment{}, err
	}
	p.ID = accounting.PaymentID(id)
	return p, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data and restarts ID sequences (for seeding/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payments", "invoices", "policies", "contacts", "sqlite_sequence"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "failed to clear %s", table)
		}
	}
	return nil
}

// Helper functions

func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
