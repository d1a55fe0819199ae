// Package quota provides pure functions for quota enforcement.
// Tests for all public functions and types.
package quota

import (
	"testing"

	"github.com/artpar/metergate/domain/account"
)

// -----------------------------------------------------------------------------
// Check function tests
// -----------------------------------------------------------------------------

func TestCheck_Unlimited(t *testing.T) {
	a := account.Account{Plan: account.PlanUnlimited, UsageBalance: 0}

	result := Check(a)

	if !result.Allowed {
		t.Errorf("expected Allowed=true for unlimited plan, got false")
	}
	if !result.Unlimited {
		t.Errorf("expected Unlimited=true")
	}
	if result.Remaining != -1 {
		t.Errorf("expected Remaining=-1, got %d", result.Remaining)
	}
	if result.WarningLevel != WarningNone {
		t.Errorf("expected WarningLevel=WarningNone, got %v", result.WarningLevel)
	}
}

func TestCheck_ZeroBalance(t *testing.T) {
	for _, plan := range []account.Plan{account.PlanNone, account.PlanMetered} {
		result := Check(account.Account{Plan: plan})

		if result.Allowed {
			t.Errorf("%s: expected Allowed=false at zero balance", plan)
		}
		if result.Reason != "quota_exhausted" {
			t.Errorf("%s: expected Reason=quota_exhausted, got %q", plan, result.Reason)
		}
		if result.WarningLevel != WarningExhausted {
			t.Errorf("%s: expected WarningExhausted, got %v", plan, result.WarningLevel)
		}
	}
}

func TestCheck_PositiveBalance(t *testing.T) {
	result := Check(account.Account{Plan: account.PlanMetered, UsageBalance: 10})

	if !result.Allowed {
		t.Errorf("expected Allowed=true, got false")
	}
	if result.Remaining != 10 {
		t.Errorf("expected Remaining=10, got %d", result.Remaining)
	}
	if result.Reason != "" {
		t.Errorf("expected empty Reason, got %q", result.Reason)
	}
}

// -----------------------------------------------------------------------------
// Level / Remaining tests
// -----------------------------------------------------------------------------

func TestLevel(t *testing.T) {
	tests := []struct {
		remaining int64
		want      WarningLevel
	}{
		{0, WarningExhausted},
		{-1, WarningExhausted},
		{1, WarningLow},
		{LowBalance, WarningLow},
		{LowBalance + 1, WarningNone},
		{100, WarningNone},
	}

	for _, tt := range tests {
		if got := Level(tt.remaining); got != tt.want {
			t.Errorf("Level(%d) = %v, want %v", tt.remaining, got, tt.want)
		}
	}
}

func TestRemaining(t *testing.T) {
	if got := Remaining(account.Account{Plan: account.PlanMetered, UsageBalance: 4}); got != "4" {
		t.Errorf("Remaining() = %q, want 4", got)
	}
	if got := Remaining(account.Account{Plan: account.PlanUnlimited, UsageBalance: 4}); got != "unlimited" {
		t.Errorf("Remaining() = %q, want unlimited", got)
	}
}

func TestWarningLevel_String(t *testing.T) {
	tests := []struct {
		level WarningLevel
		want  string
	}{
		{WarningNone, "none"},
		{WarningLow, "low"},
		{WarningExhausted, "exhausted"},
		{WarningLevel(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
