package account_test

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/artpar/metergate/domain/account"
)

func TestNew(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	a := account.New("acct_1", "alice", []byte("hash"), now)

	if a.UsageBalance != 0 {
		t.Errorf("UsageBalance = %d, want 0", a.UsageBalance)
	}
	if a.Plan != account.PlanNone {
		t.Errorf("Plan = %s, want none", a.Plan)
	}
	if !a.CreatedAt.Equal(now) || !a.UpdatedAt.Equal(now) {
		t.Error("timestamps should be set to now")
	}
	if a.Unlimited() {
		t.Error("new account should not be unlimited")
	}
}

func TestPlan_Valid(t *testing.T) {
	for _, p := range []account.Plan{account.PlanNone, account.PlanMetered, account.PlanUnlimited} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if account.Plan("gold").Valid() {
		t.Error("unknown plan should be invalid")
	}
}

func TestPlanAfterCredit(t *testing.T) {
	tests := []struct {
		in   account.Plan
		want account.Plan
	}{
		{account.PlanNone, account.PlanMetered},
		{account.PlanMetered, account.PlanMetered},
		{account.PlanUnlimited, account.PlanUnlimited},
	}
	for _, tt := range tests {
		if got := account.PlanAfterCredit(tt.in); got != tt.want {
			t.Errorf("PlanAfterCredit(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		wantErr  error
	}{
		{"email", "alice@example.com", nil},
		{"username", "alice", nil},
		{"empty", "", account.ErrIdentityRequired},
		{"too short", "ab", account.ErrIdentityLength},
		{"too long", strings.Repeat("a", 255), account.ErrIdentityLength},
		{"inner space", "al ice", account.ErrIdentityInvalid},
		{"tab", "al\tice", account.ErrIdentityInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := account.ValidateIdentity(tt.identity)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateIdentity(%q) = %v, want %v", tt.identity, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeIdentity(t *testing.T) {
	if got := account.NormalizeIdentity("  alice \n"); got != "alice" {
		t.Errorf("NormalizeIdentity = %q, want alice", got)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"ok", "pw1-secret", nil},
		{"empty", "", account.ErrPasswordRequired},
		{"short is allowed", "pw1", nil},
		{"max", strings.Repeat("x", 72), nil},
		{"over bcrypt limit", strings.Repeat("x", 73), account.ErrPasswordLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := account.ValidatePassword(tt.password); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePassword() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreditFits(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		amount  int64
		want    bool
	}{
		{"small", 5, 10, true},
		{"up to the limit", account.MaxBalance - 1, 1, true},
		{"past the limit", account.MaxBalance, 1, false},
		{"would wrap int64", 1, math.MaxInt64, false},
		{"negative", 5, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := account.CreditFits(tt.balance, tt.amount); got != tt.want {
				t.Errorf("CreditFits(%d, %d) = %v, want %v", tt.balance, tt.amount, got, tt.want)
			}
		})
	}
}
