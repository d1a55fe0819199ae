// Package account provides the account value type and pure validation rules.
// All functions are deterministic with no side effects.
package account

import (
	"errors"
	"strings"
	"time"
)

// Plan is the billing tier of an account.
type Plan string

const (
	PlanNone      Plan = "none"      // registered, never paid
	PlanMetered   Plan = "metered"   // pays per call from UsageBalance
	PlanUnlimited Plan = "unlimited" // lifetime access, balance ignored
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanNone, PlanMetered, PlanUnlimited:
		return true
	}
	return false
}

// Account is a registered identity with a metered usage balance (value type).
type Account struct {
	ID           string
	Identity     string
	PasswordHash []byte
	UsageBalance int64
	Plan         Plan
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Unlimited reports whether balance checks are bypassed for the account.
func (a Account) Unlimited() bool {
	return a.Plan == PlanUnlimited
}

// New returns a freshly registered account: zero balance, no plan.
func New(id, identity string, hash []byte, now time.Time) Account {
	return Account{
		ID:           id,
		Identity:     identity,
		PasswordHash: hash,
		UsageBalance: 0,
		Plan:         PlanNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MaxBalance is the largest usage balance an account may hold.
// It is exact as a float64, which the Redis scripts compute in.
const MaxBalance int64 = 1_000_000_000_000

// CreditFits reports whether adding amount to balance stays within MaxBalance.
func CreditFits(balance, amount int64) bool {
	return amount >= 0 && balance <= MaxBalance-amount
}

// PlanAfterCredit returns the plan an account moves to after a metered credit.
func PlanAfterCredit(p Plan) Plan {
	if p == PlanUnlimited {
		return PlanUnlimited
	}
	return PlanMetered
}

// Identity and password limits.
const (
	MinIdentityLen = 3
	MaxIdentityLen = 254
	MaxPasswordLen = 72 // bcrypt ignores bytes beyond 72
)

// Validation errors.
var (
	ErrIdentityRequired = errors.New("identity is required")
	ErrIdentityLength   = errors.New("identity must be between 3 and 254 characters")
	ErrIdentityInvalid  = errors.New("identity must not contain whitespace or control characters")
	ErrPasswordRequired = errors.New("password is required")
	ErrPasswordLength   = errors.New("password must not exceed 72 bytes")
)

// NormalizeIdentity trims surrounding whitespace.
// Identities are otherwise case-sensitive, matching the stored value.
func NormalizeIdentity(identity string) string {
	return strings.TrimSpace(identity)
}

// ValidateIdentity checks an already-normalized identity.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return ErrIdentityRequired
	}
	if n := len([]rune(identity)); n < MinIdentityLen || n > MaxIdentityLen {
		return ErrIdentityLength
	}
	for _, r := range identity {
		if r <= ' ' || r == 0x7f {
			return ErrIdentityInvalid
		}
	}
	return nil
}

// ValidatePassword checks a raw password before hashing.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len(password) > MaxPasswordLen {
		return ErrPasswordLength
	}
	return nil
}
