package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/ports"
)

const accountColumns = `id, identity, password_hash, usage_balance, plan, created_at, updated_at`

// AccountStore implements ports.AccountStore on PostgreSQL.
//
// Consume is one conditional UPDATE ... RETURNING; row-level locking
// serializes concurrent decrements of the same account. Keyed credits
// insert into ledger_events inside the same transaction.
type AccountStore struct {
	db    *sql.DB
	clock ports.Clock
}

// NewAccountStore creates a PostgreSQL account store.
func NewAccountStore(db *sql.DB, clock ports.Clock) *AccountStore {
	return &AccountStore{db: db, clock: clock}
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Identity, a.PasswordHash, a.UsageBalance, string(a.Plan), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("create account %q: %w", a.Identity, ports.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetByIdentity retrieves an account by identity.
func (s *AccountStore) GetByIdentity(ctx context.Context, identity string) (account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE identity = $1`, identity))
}

// Consume decrements the balance by one if positive.
func (s *AccountStore) Consume(ctx context.Context, id string) (account.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`UPDATE accounts
		 SET usage_balance = usage_balance - 1, updated_at = $1
		 WHERE id = $2 AND plan <> 'unlimited' AND usage_balance > 0
		 RETURNING `+accountColumns,
		s.clock.Now().UTC(), id))
	if !errors.Is(err, ports.ErrNotFound) {
		return a, err
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	if cur.Unlimited() {
		return cur, nil
	}
	return cur, ports.ErrQuotaExhausted
}

// Credit adds amount and moves plan none to metered.
func (s *AccountStore) Credit(ctx context.Context, id string, amount int64, key string) (account.Account, error) {
	return s.applyKeyed(ctx, id, key, amount, "credit",
		`UPDATE accounts
		 SET usage_balance = usage_balance + $1,
		     plan = CASE WHEN plan = 'unlimited' THEN 'unlimited' ELSE 'metered' END,
		     updated_at = $2
		 WHERE id = $3 AND usage_balance <= $4
		 RETURNING `+accountColumns,
		amount, s.clock.Now().UTC(), id, account.MaxBalance-amount)
}

// GrantUnlimited moves the account to the unlimited plan.
func (s *AccountStore) GrantUnlimited(ctx context.Context, id string, key string) (account.Account, error) {
	return s.applyKeyed(ctx, id, key, 0, "grant_unlimited",
		`UPDATE accounts
		 SET plan = 'unlimited', updated_at = $1
		 WHERE id = $2
		 RETURNING `+accountColumns,
		s.clock.Now().UTC(), id)
}

// applyKeyed runs update and the keyed ledger insert in one transaction.
// No row from the update on an existing account means the balance limit.
func (s *AccountStore) applyKeyed(ctx context.Context, id, key string, amount int64, kind, update string, args ...any) (account.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, fmt.Errorf("begin tx: %w", err)
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
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_events (key, account_id, amount, kind, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (key) DO NOTHING`,
			key, id, amount, kind, s.clock.Now().UTC())
		if err != nil {
			return account.Account{}, fmt.Errorf("db error: %w", err)
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

// Close closes the connection pool.
func (s *AccountStore) Close() error {
	return s.db.Close()
}

func scanAccount(row *sql.Row) (account.Account, error) {
	var a account.Account
	var plan string
	err := row.Scan(&a.ID, &a.Identity, &a.PasswordHash, &a.UsageBalance, &plan, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, ports.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("db error: %w", err)
	}
	a.Plan = account.Plan(plan)
	return a, nil
}

var _ ports.AccountStore = (*AccountStore)(nil)
