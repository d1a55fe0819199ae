// Package storetest is a conformance suite for ports.AccountStore.
//
// Every store adapter runs the same suite from its own tests:
//
//	storetest.Run(t, func(t *testing.T) ports.AccountStore { return newStore(t) })
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) ports.AccountStore

var seq atomic.Int64

// NewAccount returns a fresh account with unique id and identity.
func NewAccount(prefix string) account.Account {
	n := seq.Add(1)
	now := time.Now().UTC().Truncate(time.Second)
	return account.New(
		fmt.Sprintf("acct_%s_%d_%d", prefix, now.UnixNano(), n),
		fmt.Sprintf("%s-%d-%d@example.com", prefix, now.UnixNano(), n),
		[]byte("$2a$04$hash"),
		now,
	)
}

// Run executes the conformance suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.AccountStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"DuplicateIdentity", testDuplicateIdentity},
		{"NotFound", testNotFound},
		{"ConsumeAtZero", testConsumeAtZero},
		{"CreditThenConsume", testCreditThenConsume},
		{"CreditIdempotent", testCreditIdempotent},
		{"CreditBalanceLimit", testCreditBalanceLimit},
		{"UnlimitedNeverDecremented", testUnlimited},
		{"GrantUnlimitedIdempotent", testGrantUnlimitedIdempotent},
		{"ConcurrentConsume", testConcurrentConsume},
		{"ConcurrentSameKeyCredit", testConcurrentSameKeyCredit},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func create(t *testing.T, s ports.AccountStore, prefix string) account.Account {
	t.Helper()
	a := NewAccount(prefix)
	require.NoError(t, s.Create(context.Background(), a))
	return a
}

func testCreateAndGet(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "get")

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Identity, got.Identity)
	assert.Equal(t, a.PasswordHash, got.PasswordHash)
	assert.Equal(t, int64(0), got.UsageBalance)
	assert.Equal(t, account.PlanNone, got.Plan)

	byIdentity, err := s.GetByIdentity(ctx, a.Identity)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byIdentity.ID)
}

func testDuplicateIdentity(t *testing.T, s ports.AccountStore) {
	a := create(t, s, "dup")

	b := NewAccount("dup")
	b.Identity = a.Identity
	err := s.Create(context.Background(), b)
	assert.ErrorIs(t, err, ports.ErrDuplicate)
}

func testNotFound(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "acct_missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = s.GetByIdentity(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = s.Consume(ctx, "acct_missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = s.Credit(ctx, "acct_missing", 5, "")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = s.GrantUnlimited(ctx, "acct_missing", "")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func testConsumeAtZero(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "zero")

	_, err := s.Credit(ctx, a.ID, 1, "")
	require.NoError(t, err)
	_, err = s.Consume(ctx, a.ID)
	require.NoError(t, err)

	_, err = s.Consume(ctx, a.ID)
	assert.ErrorIs(t, err, ports.ErrQuotaExhausted)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.UsageBalance, "exhausted consume must not mutate")
	assert.Equal(t, account.PlanMetered, got.Plan)
}

func testCreditThenConsume(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "credit")

	before, err := s.Get(ctx, a.ID)
	require.NoError(t, err)

	after, err := s.Credit(ctx, a.ID, 5, "")
	require.NoError(t, err)
	assert.Equal(t, before.UsageBalance+5, after.UsageBalance)
	assert.Equal(t, account.PlanMetered, after.Plan)

	for i := 0; i < 5; i++ {
		got, err := s.Consume(ctx, a.ID)
		require.NoError(t, err, "consume %d", i+1)
		assert.Equal(t, int64(4-i), got.UsageBalance)
	}

	_, err = s.Consume(ctx, a.ID)
	assert.ErrorIs(t, err, ports.ErrQuotaExhausted)

	final, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UsageBalance, final.UsageBalance)
}

func testCreditIdempotent(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "idem")

	first, err := s.Credit(ctx, a.ID, 100, "payment:test:evt_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), first.UsageBalance)

	second, err := s.Credit(ctx, a.ID, 100, "payment:test:evt_1")
	assert.ErrorIs(t, err, ports.ErrAlreadyApplied)
	assert.Equal(t, int64(100), second.UsageBalance)

	// Keys are independent
	third, err := s.Credit(ctx, a.ID, 10, "payment:test:evt_2")
	require.NoError(t, err)
	assert.Equal(t, int64(110), third.UsageBalance)
}

func testCreditBalanceLimit(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "limit")

	full, err := s.Credit(ctx, a.ID, account.MaxBalance, "credit:test:fill")
	require.NoError(t, err)
	assert.Equal(t, account.MaxBalance, full.UsageBalance)

	got, err := s.Credit(ctx, a.ID, 1, "credit:test:over")
	assert.ErrorIs(t, err, ports.ErrBalanceLimit)
	assert.Equal(t, account.MaxBalance, got.UsageBalance)

	_, err = s.Credit(ctx, a.ID, math.MaxInt64, "")
	assert.ErrorIs(t, err, ports.ErrBalanceLimit)

	unchanged, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, account.MaxBalance, unchanged.UsageBalance)

	// A rejected credit must not record its key.
	_, err = s.Consume(ctx, a.ID)
	require.NoError(t, err)
	after, err := s.Credit(ctx, a.ID, 1, "credit:test:over")
	require.NoError(t, err)
	assert.Equal(t, account.MaxBalance, after.UsageBalance)
}

func testUnlimited(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "unl")

	_, err := s.Credit(ctx, a.ID, 2, "")
	require.NoError(t, err)
	granted, err := s.GrantUnlimited(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, account.PlanUnlimited, granted.Plan)

	for i := 0; i < 5; i++ {
		got, err := s.Consume(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.UsageBalance)
	}

	// Credits never downgrade unlimited
	got, err := s.Credit(ctx, a.ID, 3, "")
	require.NoError(t, err)
	assert.Equal(t, account.PlanUnlimited, got.Plan)
}

func testGrantUnlimitedIdempotent(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "grant")

	_, err := s.GrantUnlimited(ctx, a.ID, "payment:test:lifetime")
	require.NoError(t, err)

	got, err := s.GrantUnlimited(ctx, a.ID, "payment:test:lifetime")
	assert.ErrorIs(t, err, ports.ErrAlreadyApplied)
	assert.Equal(t, account.PlanUnlimited, got.Plan)
}

func testConcurrentConsume(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "race")

	const balance, callers = 20, 50
	_, err := s.Credit(ctx, a.ID, balance, "")
	require.NoError(t, err)

	var ok, exhausted atomic.Int64
	var other sync.Map
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Consume(ctx, a.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ports.ErrQuotaExhausted):
				exhausted.Add(1)
			default:
				other.Store(i, err)
			}
		}(i)
	}
	wg.Wait()

	other.Range(func(k, v any) bool {
		t.Errorf("caller %v: unexpected error %v", k, v)
		return true
	})
	assert.Equal(t, int64(balance), ok.Load())
	assert.Equal(t, int64(callers-balance), exhausted.Load())

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.UsageBalance)
}

func testConcurrentSameKeyCredit(t *testing.T, s ports.AccountStore) {
	ctx := context.Background()
	a := create(t, s, "samekey")

	const callers = 10
	var applied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Credit(ctx, a.ID, 7, "payment:test:dup"); err == nil {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), applied.Load())
	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UsageBalance)
}

func testPing(t *testing.T, s ports.AccountStore) {
	assert.NoError(t, s.Ping(context.Background()))
}
