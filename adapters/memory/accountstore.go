// Package memory provides in-memory store implementations.
//
// The memory store is single-process only: its atomicity comes from
// in-process locks. It backs tests and local development.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/ports"
)

// accountRecord is an account plus the idempotency keys applied to it.
type accountRecord struct {
	acct    account.Account
	applied map[string]struct{}
}

// accountShard is a single shard of the account store.
type accountShard struct {
	mu       sync.Mutex
	accounts map[string]*accountRecord
}

// AccountStore is a sharded in-memory implementation of ports.AccountStore.
// Balance mutations lock only the owning shard.
type AccountStore struct {
	shards []*accountShard
	clock  ports.Clock

	idxMu      sync.RWMutex
	byIdentity map[string]string // identity -> ID
}

// DefaultShards is the shard count used when none is given.
const DefaultShards = 32

// NewAccountStore creates a new in-memory account store.
func NewAccountStore(clock ports.Clock, numShards int) *AccountStore {
	if numShards <= 0 {
		numShards = DefaultShards
	}
	s := &AccountStore{
		shards:     make([]*accountShard, numShards),
		clock:      clock,
		byIdentity: make(map[string]string),
	}
	for i := range s.shards {
		s.shards[i] = &accountShard{accounts: make(map[string]*accountRecord)}
	}
	return s
}

// getShard returns the shard for an account id.
func (s *AccountStore) getShard(id string) *accountShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	if _, exists := s.byIdentity[a.Identity]; exists {
		return fmt.Errorf("create account %q: %w", a.Identity, ports.ErrDuplicate)
	}

	shard := s.getShard(a.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, exists := shard.accounts[a.ID]; exists {
		return fmt.Errorf("create account id %s: %w", a.ID, ports.ErrDuplicate)
	}

	shard.accounts[a.ID] = &accountRecord{acct: a, applied: make(map[string]struct{})}
	s.byIdentity[a.Identity] = a.ID
	return nil
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	shard := s.getShard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	return rec.acct, nil
}

// GetByIdentity retrieves an account by identity.
func (s *AccountStore) GetByIdentity(ctx context.Context, identity string) (account.Account, error) {
	s.idxMu.RLock()
	id, ok := s.byIdentity[identity]
	s.idxMu.RUnlock()
	if !ok {
		return account.Account{}, fmt.Errorf("account %q: %w", identity, ports.ErrNotFound)
	}
	return s.Get(ctx, id)
}

// Consume decrements the balance by one under the shard lock.
func (s *AccountStore) Consume(ctx context.Context, id string) (account.Account, error) {
	return s.mutate(id, "", func(a *account.Account) error {
		if a.Unlimited() {
			return nil
		}
		if a.UsageBalance <= 0 {
			return ports.ErrQuotaExhausted
		}
		a.UsageBalance--
		a.UpdatedAt = s.clock.Now()
		return nil
	})
}

// Credit adds amount and records key in one critical section.
func (s *AccountStore) Credit(ctx context.Context, id string, amount int64, key string) (account.Account, error) {
	return s.mutate(id, key, func(a *account.Account) error {
		if !account.CreditFits(a.UsageBalance, amount) {
			return ports.ErrBalanceLimit
		}
		a.UsageBalance += amount
		a.Plan = account.PlanAfterCredit(a.Plan)
		a.UpdatedAt = s.clock.Now()
		return nil
	})
}

// GrantUnlimited switches the account to the unlimited plan.
func (s *AccountStore) GrantUnlimited(ctx context.Context, id string, key string) (account.Account, error) {
	return s.mutate(id, key, func(a *account.Account) error {
		a.Plan = account.PlanUnlimited
		a.UpdatedAt = s.clock.Now()
		return nil
	})
}

// mutate applies fn to a copy of the account and commits it only on success.
// A non-empty key that was already applied short-circuits with ErrAlreadyApplied.
func (s *AccountStore) mutate(id, key string, fn func(*account.Account) error) (account.Account, error) {
	shard := s.getShard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	if key != "" {
		if _, done := rec.applied[key]; done {
			return rec.acct, fmt.Errorf("key %s: %w", key, ports.ErrAlreadyApplied)
		}
	}

	next := rec.acct
	if err := fn(&next); err != nil {
		return rec.acct, err
	}
	rec.acct = next
	if key != "" {
		rec.applied[key] = struct{}{}
	}
	return next, nil
}

// Ping always succeeds.
func (s *AccountStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *AccountStore) Close() error { return nil }

// Len returns the number of accounts (for testing).
func (s *AccountStore) Len() int {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	return len(s.byIdentity)
}

// Ensure interface compliance.
var _ ports.AccountStore = (*AccountStore)(nil)
