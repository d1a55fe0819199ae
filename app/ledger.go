// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/apperr"
	"github.com/artpar/metergate/ports"
	"github.com/rs/zerolog"
)

// RefundKeyPrefix prefixes the idempotency key of a rollback.
const RefundKeyPrefix = "refund:"

// LedgerService is the only mutator of account balances.
// Each operation is a single atomic primitive of the store; the service maps
// store sentinels to application errors and never reads-then-writes.
type LedgerService struct {
	accounts ports.AccountStore
	logger   zerolog.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(accounts ports.AccountStore, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		accounts: accounts,
		logger:   logger,
	}
}

// Get returns the account with the given ID.
func (s *LedgerService) Get(ctx context.Context, accountID string) (account.Account, error) {
	a, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return account.Account{}, storeError(err)
	}
	return a, nil
}

// Find returns the account registered under identity.
func (s *LedgerService) Find(ctx context.Context, identity string) (account.Account, error) {
	a, err := s.accounts.GetByIdentity(ctx, account.NormalizeIdentity(identity))
	if err != nil {
		return account.Account{}, storeError(err)
	}
	return a, nil
}

// TryConsume spends one call. Unlimited accounts succeed without mutation.
func (s *LedgerService) TryConsume(ctx context.Context, accountID string) (account.Account, error) {
	a, err := s.accounts.Consume(ctx, accountID)
	if err != nil {
		return account.Account{}, storeError(err)
	}
	return a, nil
}

// Credit adds amount calls to the balance.
// A repeated non-empty key returns the current account and an error matching
// ports.ErrAlreadyApplied, which callers treat as success.
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount int64, key string) (account.Account, error) {
	if amount <= 0 {
		return account.Account{}, apperr.Validation("increment must be a positive integer", nil)
	}
	if amount > account.MaxBalance {
		return account.Account{}, apperr.Validation(
			fmt.Sprintf("increment must not exceed %d", account.MaxBalance), nil)
	}

	a, err := s.accounts.Credit(ctx, accountID, amount, key)
	if errors.Is(err, ports.ErrAlreadyApplied) {
		s.logger.Info().
			Str("account_id", accountID).
			Str("key", key).
			Msg("credit already applied")
		return a, err
	}
	if err != nil {
		return account.Account{}, storeError(err)
	}

	s.logger.Info().
		Str("account_id", accountID).
		Int64("amount", amount).
		Int64("balance", a.UsageBalance).
		Str("plan", string(a.Plan)).
		Msg("balance credited")
	return a, nil
}

// GrantUnlimited moves the account to the unlimited plan.
// Key semantics match Credit.
func (s *LedgerService) GrantUnlimited(ctx context.Context, accountID string, key string) (account.Account, error) {
	a, err := s.accounts.GrantUnlimited(ctx, accountID, key)
	if errors.Is(err, ports.ErrAlreadyApplied) {
		return a, err
	}
	if err != nil {
		return account.Account{}, storeError(err)
	}

	s.logger.Info().
		Str("account_id", accountID).
		Msg("unlimited plan granted")
	return a, nil
}

// Rollback restores the unit spent by requestID.
// The refund is keyed so a retried rollback cannot refund twice, and it is a
// no-op for unlimited accounts, which were never charged.
func (s *LedgerService) Rollback(ctx context.Context, accountID, requestID string) (account.Account, error) {
	if requestID == "" {
		return account.Account{}, apperr.Validation("request id is required for a refund", nil)
	}

	a, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return account.Account{}, storeError(err)
	}
	if a.Unlimited() {
		return a, nil
	}

	a, err = s.accounts.Credit(ctx, accountID, 1, RefundKey(accountID, requestID))
	if err != nil && !errors.Is(err, ports.ErrAlreadyApplied) {
		return account.Account{}, storeError(err)
	}
	return a, err
}

// RefundKey is the idempotency key of the refund for one metered request.
// Request IDs may come from the client, so the key is scoped to the account.
func RefundKey(accountID, requestID string) string {
	return RefundKeyPrefix + accountID + ":" + requestID
}

// storeError maps store sentinels to application errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return apperr.NotFound("account not found", err)
	case errors.Is(err, ports.ErrQuotaExhausted):
		return apperr.QuotaExhausted()
	case errors.Is(err, ports.ErrBalanceLimit):
		return apperr.Validation(fmt.Sprintf("balance would exceed %d", account.MaxBalance), err)
	case errors.Is(err, ports.ErrDuplicate):
		return apperr.Conflict("duplicate_identity", "identity is already registered")
	default:
		return apperr.Internal(fmt.Errorf("account store: %w", err))
	}
}

// ManualCreditKey scopes an operator-supplied idempotency key to the account.
func ManualCreditKey(accountID, key string) string {
	if key == "" {
		return ""
	}
	return "credit:" + accountID + ":" + key
}
