// Package quota provides pure functions for quota enforcement.
// All functions are deterministic with no side effects.
package quota

import (
	"strconv"

	"github.com/artpar/metergate/domain/account"
)

// LowBalance is the remaining-call count at or below which clients are warned.
const LowBalance int64 = 3

// UnlimitedLabel is reported as the remaining quota of unlimited accounts.
const UnlimitedLabel = "unlimited"

// WarningLevel indicates how close to exhaustion the account is.
type WarningLevel int

const (
	WarningNone      WarningLevel = iota // plenty left, or unlimited
	WarningLow                           // <= LowBalance calls left
	WarningExhausted                     // nothing left
)

// CheckResult represents the outcome of a quota check (value type).
type CheckResult struct {
	Allowed      bool
	Remaining    int64 // -1 for unlimited
	Unlimited    bool
	WarningLevel WarningLevel
	Reason       string
}

// Check reports whether the account may spend one call.
// This is a PURE function - the store performs the actual decrement.
func Check(a account.Account) CheckResult {
	if a.Unlimited() {
		return CheckResult{Allowed: true, Remaining: -1, Unlimited: true}
	}
	if a.UsageBalance <= 0 {
		return CheckResult{
			Allowed:      false,
			Remaining:    0,
			WarningLevel: WarningExhausted,
			Reason:       "quota_exhausted",
		}
	}
	return CheckResult{
		Allowed:      true,
		Remaining:    a.UsageBalance,
		WarningLevel: Level(a.UsageBalance),
	}
}

// Level classifies a remaining balance.
func Level(remaining int64) WarningLevel {
	switch {
	case remaining <= 0:
		return WarningExhausted
	case remaining <= LowBalance:
		return WarningLow
	default:
		return WarningNone
	}
}

// Remaining formats the balance for the X-Quota-Remaining header.
func Remaining(a account.Account) string {
	if a.Unlimited() {
		return UnlimitedLabel
	}
	return strconv.FormatInt(a.UsageBalance, 10)
}

// String returns the string representation of a warning level.
func (w WarningLevel) String() string {
	switch w {
	case WarningNone:
		return "none"
	case WarningLow:
		return "low"
	case WarningExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
