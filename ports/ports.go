// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/payment"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// AccountStore persists accounts and owns the atomic balance primitives.
//
// Every mutating method must be atomic at the store level: a conditional
// update, a server-side script or a transaction. Callers never read a
// balance and write it back.
type AccountStore interface {
	// Create stores a new account. Returns ErrDuplicate if the identity is taken.
	Create(ctx context.Context, a account.Account) error

	// Get retrieves an account by ID.
	Get(ctx context.Context, id string) (account.Account, error)

	// GetByIdentity retrieves an account by its login identity.
	GetByIdentity(ctx context.Context, identity string) (account.Account, error)

	// Consume decrements the balance by one if it is positive.
	// Unlimited accounts are returned unchanged. Returns ErrQuotaExhausted
	// without mutating anything when the balance is zero.
	Consume(ctx context.Context, id string) (account.Account, error)

	// Credit adds amount to the balance and moves plan none to metered.
	// A non-empty key is recorded in the same atomic step; a key that was
	// already recorded returns ErrAlreadyApplied and the current account.
	Credit(ctx context.Context, id string, amount int64, key string) (account.Account, error)

	// GrantUnlimited switches the account to the unlimited plan, with the
	// same idempotency-key rules as Credit.
	GrantUnlimited(ctx context.Context, id string, key string) (account.Account, error)

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// PredictRequest is the validated payload forwarded downstream.
type PredictRequest struct {
	ContractAddress string `json:"contractAddress"`
	Nonce           *int64 `json:"nonce,omitempty"`
	RequestID       string `json:"-"`
}

// PredictResponse is the downstream reply, relayed verbatim.
type PredictResponse struct {
	Status      int
	ContentType string
	Body        []byte
	LatencyMs   int64
}

// Predictor is the downstream prediction service.
type Predictor interface {
	// Predict forwards the request. Any transport failure, timeout or
	// non-2xx status is returned as an error.
	Predict(ctx context.Context, req PredictRequest) (PredictResponse, error)

	// HealthCheck verifies the downstream is reachable.
	HealthCheck(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Hasher Port
// -----------------------------------------------------------------------------

// Hasher provides password hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Token Port
// -----------------------------------------------------------------------------

// Claims are the identity claims carried by a session token.
type Claims struct {
	AccountID string
	Identity  string
	ExpiresAt time.Time // zero when the token never expires
}

// TokenIssuer signs and validates session tokens.
type TokenIssuer interface {
	// Issue creates a signed token for the account.
	Issue(accountID, identity string) (string, error)

	// Validate checks the signature (and expiry, when set) and returns the claims.
	Validate(token string) (Claims, error)
}

// -----------------------------------------------------------------------------
// Payment Provider Ports
// -----------------------------------------------------------------------------

// PaymentProvider verifies and decodes webhooks from a payment processor.
type PaymentProvider interface {
	// Name returns the provider name (e.g., "coinbase", "stripe").
	Name() string

	// ParseWebhook verifies the signature carried in headers and decodes the
	// event. Returns an error for unsigned, forged or malformed payloads.
	ParseWebhook(payload []byte, headers http.Header) (payment.Event, error)
}
