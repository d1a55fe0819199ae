package app_test

import (
	"context"
	"strings"
	"testing"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/apperr"
)

func TestAuthService_Register(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	id, err := env.auth.Register(ctx, "  alice@example.com ", "pw1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	a, err := env.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a.Identity != "alice@example.com" {
		t.Errorf("Identity = %q, want trimmed", a.Identity)
	}
	if a.UsageBalance != 0 || a.Plan != account.PlanNone {
		t.Errorf("new account = balance %d plan %s, want 0 none", a.UsageBalance, a.Plan)
	}
	if string(a.PasswordHash) == "pw1" {
		t.Error("password stored in plaintext")
	}
}

func TestAuthService_Register_Invalid(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	tests := []struct {
		name     string
		identity string
		password string
	}{
		{"empty identity", "", "pw"},
		{"short identity", "ab", "pw"},
		{"whitespace identity", "al ice", "pw"},
		{"empty password", "alice", ""},
		{"long password", "alice", strings.Repeat("p", 73)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.Register(ctx, tt.identity, tt.password)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("Register() error = %v, want validation", err)
			}
		})
	}
	if env.store.Len() != 0 {
		t.Errorf("store has %d accounts, want 0", env.store.Len())
	}
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	if _, err := env.auth.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := env.auth.Register(ctx, "alice", "pw2")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("second Register() error = %v, want conflict", err)
	}
	if got := apperr.From(err).ErrorCode(); got != "duplicate_identity" {
		t.Errorf("code = %s, want duplicate_identity", got)
	}
	if got := apperr.From(err).HTTPStatus(); got != 400 {
		t.Errorf("status = %d, want 400", got)
	}
}

func TestAuthService_Login(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, token := env.register(t, "alice")

	claims, err := env.auth.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.AccountID != id || claims.Identity != "alice" {
		t.Errorf("claims = %+v, want account %s alice", claims, id)
	}

	_, errWrong := env.auth.Login(ctx, "alice", "wrong")
	_, errMissing := env.auth.Login(ctx, "nobody", "pw1-secret")
	for name, err := range map[string]error{"wrong password": errWrong, "unknown identity": errMissing} {
		if !apperr.Is(err, apperr.KindInvalidCredentials) {
			t.Errorf("%s: error = %v, want invalid credentials", name, err)
		}
	}
	if errWrong.Error() != errMissing.Error() {
		t.Errorf("errors differ: %q vs %q", errWrong, errMissing)
	}
}

func TestAuthService_Login_Malformed(t *testing.T) {
	env := newTestEnv(t, true)
	_, err := env.auth.Login(context.Background(), "", "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Login() error = %v, want validation", err)
	}
}

func TestAuthService_Verify_Invalid(t *testing.T) {
	env := newTestEnv(t, true)
	_, token := env.register(t, "alice")

	for name, tok := range map[string]string{
		"empty":    "",
		"garbage":  "not.a.jwt",
		"tampered": token[:len(token)-2] + "xx",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := env.auth.Verify(tok); !apperr.Is(err, apperr.KindInvalidToken) {
				t.Errorf("Verify() error = %v, want invalid token", err)
			}
		})
	}
}
