// Package redis provides a Redis implementation of the account store.
//
// Accounts live in hashes; every balance mutation is a Lua script run with
// EVALSHA, so check-and-decrement and key-guarded credits execute atomically
// on the server. The account hash and its applied-keys set share a
// {id} hash tag, so each script touches a single Redis Cluster slot.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/ports"
	"github.com/go-redis/redis/v8"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "metergate:"

// identityClaimTTL bounds an identity claim whose account write never landed.
const identityClaimTTL = 30 * time.Second

// AccountStore implements ports.AccountStore on Redis.
type AccountStore struct {
	client redis.UniversalClient
	prefix string
	clock  ports.Clock
}

// Open parses a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewAccountStore creates a Redis account store. An empty prefix uses DefaultPrefix.
func NewAccountStore(client redis.UniversalClient, prefix string, clock ports.Clock) *AccountStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &AccountStore{client: client, prefix: prefix, clock: clock}
}

func (s *AccountStore) accountKey(id string) string  { return s.prefix + "account:{" + id + "}" }
func (s *AccountStore) appliedKey(id string) string  { return s.prefix + "applied:{" + id + "}" }
func (s *AccountStore) identityKey(id string) string { return s.prefix + "identity:" + id }

// Create stores a new account.
//
// The identity key lives in another slot than the account, so the identity
// is claimed first with a short TTL, the account hash is written, and the
// claim is then made permanent. A failed account write releases the claim.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	idKey := s.identityKey(a.Identity)
	claimed, err := s.client.SetNX(ctx, idKey, a.ID, identityClaimTTL).Result()
	if err != nil {
		return fmt.Errorf("claim identity: %w", err)
	}
	if !claimed {
		return fmt.Errorf("create account %q: %w", a.Identity, ports.ErrDuplicate)
	}

	if err := s.createHash(ctx, a); err != nil {
		if delErr := s.client.Del(context.WithoutCancel(ctx), idKey).Err(); delErr != nil {
			return fmt.Errorf("%w (release identity: %v)", err, delErr)
		}
		return err
	}

	if err := s.client.Persist(ctx, idKey).Err(); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}
	return nil
}

func (s *AccountStore) createHash(ctx context.Context, a account.Account) error {
	res, err := createScript.Run(ctx, s.client,
		[]string{s.accountKey(a.ID)},
		a.ID, a.Identity, string(a.PasswordHash), a.UsageBalance, string(a.Plan),
		a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
	).Result()
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	status, _, err := parseReply(res)
	if err != nil {
		return err
	}
	if status == "duplicate" {
		return fmt.Errorf("create account %s: %w", a.ID, ports.ErrDuplicate)
	}
	return nil
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(id)).Result()
	if err != nil {
		return account.Account{}, fmt.Errorf("get account: %w", err)
	}
	if len(fields) == 0 {
		return account.Account{}, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	return decodeAccount(fields)
}

// GetByIdentity retrieves an account by identity.
func (s *AccountStore) GetByIdentity(ctx context.Context, identity string) (account.Account, error) {
	id, err := s.client.Get(ctx, s.identityKey(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return account.Account{}, fmt.Errorf("account %q: %w", identity, ports.ErrNotFound)
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("get identity: %w", err)
	}
	return s.Get(ctx, id)
}

// Consume decrements the balance by one if positive.
func (s *AccountStore) Consume(ctx context.Context, id string) (account.Account, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.accountKey(id)},
		s.clock.Now().UnixNano(),
	).Result()
	if err != nil {
		return account.Account{}, fmt.Errorf("consume: %w", err)
	}
	return s.result(id, res)
}

// Credit adds amount and moves plan none to metered.
func (s *AccountStore) Credit(ctx context.Context, id string, amount int64, key string) (account.Account, error) {
	return s.apply(ctx, id, "credit", amount, key)
}

// GrantUnlimited moves the account to the unlimited plan.
func (s *AccountStore) GrantUnlimited(ctx context.Context, id string, key string) (account.Account, error) {
	return s.apply(ctx, id, "grant", 0, key)
}

func (s *AccountStore) apply(ctx context.Context, id, mode string, amount int64, key string) (account.Account, error) {
	res, err := applyScript.Run(ctx, s.client,
		[]string{s.accountKey(id), s.appliedKey(id)},
		mode, amount, key, s.clock.Now().UnixNano(), account.MaxBalance,
	).Result()
	if err != nil {
		return account.Account{}, fmt.Errorf("%s: %w", mode, err)
	}
	a, err := s.result(id, res)
	if errors.Is(err, ports.ErrAlreadyApplied) {
		return a, fmt.Errorf("key %s: %w", key, err)
	}
	return a, err
}

// result maps a script reply to an account and a sentinel error.
func (s *AccountStore) result(id string, res interface{}) (account.Account, error) {
	status, fields, err := parseReply(res)
	if err != nil {
		return account.Account{}, err
	}
	if status == "missing" {
		return account.Account{}, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	a, err := decodeAccount(fields)
	if err != nil {
		return account.Account{}, err
	}
	switch status {
	case "ok":
		return a, nil
	case "exhausted":
		return a, ports.ErrQuotaExhausted
	case "applied":
		return a, ports.ErrAlreadyApplied
	case "limit":
		return a, ports.ErrBalanceLimit
	default:
		return account.Account{}, fmt.Errorf("unexpected script status %q", status)
	}
}

// Ping checks server connectivity.
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *AccountStore) Close() error {
	return s.client.Close()
}

// parseReply splits {status, k1, v1, k2, v2...}.
func parseReply(res interface{}) (string, map[string]string, error) {
	items, ok := res.([]interface{})
	if !ok || len(items) == 0 {
		return "", nil, fmt.Errorf("unexpected script reply %T", res)
	}
	status, ok := items[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("unexpected script status %T", items[0])
	}
	fields := make(map[string]string, (len(items)-1)/2)
	for i := 1; i+1 < len(items); i += 2 {
		k, _ := items[i].(string)
		v, _ := items[i+1].(string)
		fields[k] = v
	}
	return status, fields, nil
}

func decodeAccount(f map[string]string) (account.Account, error) {
	balance, err := strconv.ParseInt(f["usage_balance"], 10, 64)
	if err != nil {
		return account.Account{}, fmt.Errorf("decode usage_balance: %w", err)
	}
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return account.Account{}, fmt.Errorf("decode created_at: %w", err)
	}
	updated, err := strconv.ParseInt(f["updated_at"], 10, 64)
	if err != nil {
		return account.Account{}, fmt.Errorf("decode updated_at: %w", err)
	}
	return account.Account{
		ID:           f["id"],
		Identity:     f["identity"],
		PasswordHash: []byte(f["password_hash"]),
		UsageBalance: balance,
		Plan:         account.Plan(f["plan"]),
		CreatedAt:    time.Unix(0, created).UTC(),
		UpdatedAt:    time.Unix(0, updated).UTC(),
	}, nil
}

var _ ports.AccountStore = (*AccountStore)(nil)
