package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/ports"
)

const accountColumns = `id, identity, password_hash, usage_balance, plan, created_at, updated_at`

// AccountStore implements ports.AccountStore using SQLite.
//
// Consume is a single conditional UPDATE ... RETURNING. Credits run in a
// transaction that also inserts the idempotency key into ledger_events.
type AccountStore struct {
	db    *DB
	clock ports.Clock
}

// NewAccountStore creates a new SQLite account store.
func NewAccountStore(db *DB, clock ports.Clock) *AccountStore {
	return &AccountStore{db: db, clock: clock}
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Identity, a.PasswordHash, a.UsageBalance, string(a.Plan), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create account %q: %w", a.Identity, ports.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetByIdentity retrieves an account by identity.
func (s *AccountStore) GetByIdentity(ctx context.Context, identity string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE identity = ?`, identity)
	return scanAccount(row)
}

// Consume decrements the balance by one if positive.
func (s *AccountStore) Consume(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET usage_balance = usage_balance - 1, updated_at = ?
		WHERE id = ? AND plan <> 'unlimited' AND usage_balance > 0
		RETURNING `+accountColumns,
		s.clock.Now().UTC(), id)

	a, err := scanAccount(row)
	if !errors.Is(err, ports.ErrNotFound) {
		return a, err
	}

	// No row updated: missing, unlimited or exhausted.
	cur, err := s.Get(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	if cur.Unlimited() {
		return cur, nil
	}
	return cur, ports.ErrQuotaExhausted
}

// Credit adds amount to the balance, recording key atomically.
func (s *AccountStore) Credit(ctx context.Context, id string, amount int64, key string) (account.Account, error) {
	return s.applyKeyed(ctx, id, key, amount, "credit", `
		UPDATE accounts
		SET usage_balance = usage_balance + ?,
		    plan = CASE WHEN plan = 'unlimited' THEN 'unlimited' ELSE 'metered' END,
		    updated_at = ?
		WHERE id = ? AND usage_balance <= ?
		RETURNING `+accountColumns,
		amount, s.clock.Now().UTC(), id, account.MaxBalance-amount)
}

// GrantUnlimited moves the account to the unlimited plan.
func (s *AccountStore) GrantUnlimited(ctx context.Context, id string, key string) (account.Account, error) {
	return s.applyKeyed(ctx, id, key, 0, "grant_unlimited", `
		UPDATE accounts
		SET plan = 'unlimited', updated_at = ?
		WHERE id = ?
		RETURNING `+accountColumns,
		s.clock.Now().UTC(), id)
}

// applyKeyed runs update and, for a non-empty key, the ledger insert in one
// transaction. A key that already exists rolls the update back. An update
// that matches no row of an existing account hit the balance limit.
func (s *AccountStore) applyKeyed(ctx context.Context, id, key string, amount int64, kind, update string, args ...any) (account.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := scanAccount(tx.QueryRowContext(ctx, update, args...))
	if errors.Is(err, ports.ErrNotFound) {
		if err := tx.Rollback(); err != nil {
			return account.Account{}, fmt.Errorf("rollback: %w", err)
		}
		cur, err := s.Get(ctx, id)
		if err != nil {
			return account.Account{}, err
		}
		return cur, fmt.Errorf("credit %d: %w", amount, ports.ErrBalanceLimit)
	}
	if err != nil {
		return account.Account{}, err
	}

	if key != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_events (key, account_id, amount, kind, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, id, amount, kind, s.clock.Now().UTC())
		if err != nil {
			return account.Account{}, fmt.Errorf("record ledger event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := tx.Rollback(); err != nil {
				return account.Account{}, fmt.Errorf("rollback: %w", err)
			}
			cur, err := s.Get(ctx, id)
			if err != nil {
				return account.Account{}, err
			}
			return cur, fmt.Errorf("key %s: %w", key, ports.ErrAlreadyApplied)
		}
	}

	if err := tx.Commit(); err != nil {
		return account.Account{}, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// Ping checks database connectivity.
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *AccountStore) Close() error {
	return s.db.Close()
}

func scanAccount(row *sql.Row) (account.Account, error) {
	var a account.Account
	var plan string
	var created, updated timestamp
	err := row.Scan(&a.ID, &a.Identity, &a.PasswordHash, &a.UsageBalance, &plan, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, ports.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.Plan = account.Plan(plan)
	a.CreatedAt, a.UpdatedAt = time.Time(created), time.Time(updated)
	return a, nil
}

// timestamp scans DATETIME values. RETURNING columns carry no declared type,
// so the driver may hand back the stored text instead of a time.Time.
type timestamp time.Time

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts = timestamp(v.UTC())
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case int64:
		*ts = timestamp(time.Unix(v, 0).UTC())
		return nil
	case nil:
		*ts = timestamp(time.Time{})
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (ts *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts = timestamp(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", s)
}

// Ensure interface compliance.
var _ ports.AccountStore = (*AccountStore)(nil)
