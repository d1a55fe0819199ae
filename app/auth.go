package app

import (
	"context"
	"errors"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/apperr"
	"github.com/artpar/metergate/ports"
	"github.com/rs/zerolog"
)

var errEmptyToken = errors.New("empty token")

// AuthService registers accounts, verifies credentials and issues tokens.
type AuthService struct {
	accounts ports.AccountStore
	hasher   ports.Hasher
	tokens   ports.TokenIssuer
	idGen    ports.IDGenerator
	clock    ports.Clock
	logger   zerolog.Logger
}

// AuthDeps contains dependencies for AuthService.
type AuthDeps struct {
	Accounts ports.AccountStore
	Hasher   ports.Hasher
	Tokens   ports.TokenIssuer
	IDGen    ports.IDGenerator
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(deps AuthDeps) *AuthService {
	return &AuthService{
		accounts: deps.Accounts,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		idGen:    deps.IDGen,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
}

// Register creates an account with a zero balance and returns its ID.
func (s *AuthService) Register(ctx context.Context, identity, password string) (string, error) {
	identity = account.NormalizeIdentity(identity)
	if err := account.ValidateIdentity(identity); err != nil {
		return "", apperr.Validation(err.Error(), err)
	}
	if err := account.ValidatePassword(password); err != nil {
		return "", apperr.Validation(err.Error(), err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", apperr.Internal(err)
	}

	a := account.New(s.idGen.New(), identity, hash, s.clock.Now())
	if err := s.accounts.Create(ctx, a); err != nil {
		return "", storeError(err)
	}

	s.logger.Info().
		Str("account_id", a.ID).
		Msg("account registered")
	return a.ID, nil
}

// Login verifies credentials and returns a signed token.
// Unknown identities and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, identity, password string) (string, error) {
	identity = account.NormalizeIdentity(identity)
	if identity == "" || password == "" {
		return "", apperr.Validation("identity and password are required", nil)
	}

	a, err := s.accounts.GetByIdentity(ctx, identity)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		// Burn a bcrypt comparison so response time does not reveal the miss.
		s.hasher.Compare(nil, password)
		return "", apperr.InvalidCredentials()
	case err != nil:
		return "", apperr.Internal(err)
	}

	if !s.hasher.Compare(a.PasswordHash, password) {
		return "", apperr.InvalidCredentials()
	}

	token, err := s.tokens.Issue(a.ID, a.Identity)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return token, nil
}

// Verify validates a bearer token and returns its claims.
func (s *AuthService) Verify(token string) (ports.Claims, error) {
	if token == "" {
		return ports.Claims{}, apperr.InvalidToken(errEmptyToken)
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return ports.Claims{}, apperr.InvalidToken(err)
	}
	return claims, nil
}
