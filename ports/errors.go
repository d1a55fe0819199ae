package ports

import "errors"

// Sentinel errors shared by every AccountStore implementation.
// Adapters wrap them with context; callers test with errors.Is.
var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique identity is already taken.
	ErrDuplicate = errors.New("already exists")

	// ErrQuotaExhausted is returned by Consume when the balance is zero.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrAlreadyApplied is returned when an idempotency key was already recorded.
	ErrAlreadyApplied = errors.New("already applied")

	// ErrBalanceLimit is returned by Credit when the result would exceed
	// account.MaxBalance. The account and the key are left untouched.
	ErrBalanceLimit = errors.New("balance limit exceeded")
)
