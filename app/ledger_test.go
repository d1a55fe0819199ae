package app_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/apperr"
	"github.com/artpar/metergate/ports"
)

func TestLedgerService_TryConsume(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	_, err := env.ledger.TryConsume(ctx, id)
	if !apperr.Is(err, apperr.KindQuotaExhausted) {
		t.Fatalf("TryConsume() at zero error = %v, want quota exhausted", err)
	}
	a, _ := env.ledger.Get(ctx, id)
	if a.UsageBalance != 0 {
		t.Errorf("balance = %d, want 0", a.UsageBalance)
	}

	if _, err := env.ledger.TryConsume(ctx, "acct_missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("TryConsume() unknown error = %v, want not found", err)
	}
}

func TestLedgerService_CreditThenConsume(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	a, err := env.ledger.Credit(ctx, id, 5, "")
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if a.UsageBalance != 5 || a.Plan != account.PlanMetered {
		t.Fatalf("after credit = balance %d plan %s, want 5 metered", a.UsageBalance, a.Plan)
	}

	for i := 0; i < 5; i++ {
		if _, err := env.ledger.TryConsume(ctx, id); err != nil {
			t.Fatalf("TryConsume() #%d error = %v", i+1, err)
		}
	}
	if _, err := env.ledger.TryConsume(ctx, id); !apperr.Is(err, apperr.KindQuotaExhausted) {
		t.Errorf("sixth TryConsume() error = %v, want quota exhausted", err)
	}
}

func TestLedgerService_Credit_Invalid(t *testing.T) {
	env := newTestEnv(t, true)
	id, _ := env.register(t, "alice")

	for _, amount := range []int64{0, -3, account.MaxBalance + 1, math.MaxInt64} {
		if _, err := env.ledger.Credit(context.Background(), id, amount, ""); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("Credit(%d) error = %v, want validation", amount, err)
		}
	}
}

func TestLedgerService_Credit_BalanceLimit(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	if _, err := env.ledger.Credit(ctx, id, account.MaxBalance, ""); err != nil {
		t.Fatalf("Credit(MaxBalance) error = %v", err)
	}
	_, err := env.ledger.Credit(ctx, id, 1, "credit:"+id+":over")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Credit past the limit error = %v, want validation", err)
	}

	a, _ := env.ledger.Get(ctx, id)
	if a.UsageBalance != account.MaxBalance {
		t.Errorf("balance = %d, want %d", a.UsageBalance, account.MaxBalance)
	}
	if a.UsageBalance < 0 {
		t.Error("balance wrapped negative")
	}
}

func TestLedgerService_Credit_Idempotent(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	if _, err := env.ledger.Credit(ctx, id, 10, "k1"); err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	a, err := env.ledger.Credit(ctx, id, 10, "k1")
	if !errors.Is(err, ports.ErrAlreadyApplied) {
		t.Fatalf("repeat Credit() error = %v, want ErrAlreadyApplied", err)
	}
	if a.UsageBalance != 10 {
		t.Errorf("balance = %d, want 10", a.UsageBalance)
	}
}

func TestLedgerService_GrantUnlimited(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	if _, err := env.ledger.GrantUnlimited(ctx, id, "lifetime-1"); err != nil {
		t.Fatalf("GrantUnlimited() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		a, err := env.ledger.TryConsume(ctx, id)
		if err != nil {
			t.Fatalf("TryConsume() error = %v", err)
		}
		if a.UsageBalance != 0 {
			t.Fatalf("unlimited balance changed to %d", a.UsageBalance)
		}
	}
}

func TestLedgerService_Rollback(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	if _, err := env.ledger.Credit(ctx, id, 1, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.TryConsume(ctx, id); err != nil {
		t.Fatal(err)
	}

	a, err := env.ledger.Rollback(ctx, id, "req_1")
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if a.UsageBalance != 1 {
		t.Errorf("balance after rollback = %d, want 1", a.UsageBalance)
	}

	a, err = env.ledger.Rollback(ctx, id, "req_1")
	if !errors.Is(err, ports.ErrAlreadyApplied) {
		t.Errorf("repeat Rollback() error = %v, want ErrAlreadyApplied", err)
	}
	if a.UsageBalance != 1 {
		t.Errorf("balance after repeat = %d, want 1", a.UsageBalance)
	}

	if _, err := env.ledger.Rollback(ctx, id, ""); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Rollback() without request id error = %v, want validation", err)
	}
}

func TestLedgerService_Rollback_Unlimited(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	if _, err := env.ledger.GrantUnlimited(ctx, id, ""); err != nil {
		t.Fatal(err)
	}
	a, err := env.ledger.Rollback(ctx, id, "req_1")
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if a.UsageBalance != 0 {
		t.Errorf("balance = %d, want 0", a.UsageBalance)
	}
}

func TestLedgerService_ConcurrentConsume(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")
	if _, err := env.ledger.Credit(ctx, id, 7, ""); err != nil {
		t.Fatal(err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.ledger.TryConsume(ctx, id); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 7 {
		t.Errorf("successful consumes = %d, want 7", ok)
	}
	a, _ := env.ledger.Get(ctx, id)
	if a.UsageBalance != 0 {
		t.Errorf("final balance = %d, want 0", a.UsageBalance)
	}
}

func TestLedgerService_Find(t *testing.T) {
	env := newTestEnv(t, true)
	id, _ := env.register(t, "alice")

	a, err := env.ledger.Find(context.Background(), " alice ")
	if err != nil || a.ID != id {
		t.Errorf("Find() = %s, %v; want %s", a.ID, err, id)
	}
	if _, err := env.ledger.Find(context.Background(), "bob"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Find(unknown) error = %v, want not found", err)
	}
}
