package app_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/metergate/adapters/auth"
	"github.com/artpar/metergate/adapters/clock"
	"github.com/artpar/metergate/adapters/hasher"
	"github.com/artpar/metergate/adapters/idgen"
	"github.com/artpar/metergate/adapters/memory"
	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/domain/payment"
	"github.com/artpar/metergate/ports"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret-0123456789"

type fakePredictor struct {
	calls atomic.Int32
	err   error
	delay time.Duration

	mu      sync.Mutex
	lastReq ports.PredictRequest
	lastCtx context.Context
}

func (p *fakePredictor) Predict(ctx context.Context, req ports.PredictRequest) (ports.PredictResponse, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.lastReq = req
	p.lastCtx = ctx
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ports.PredictResponse{}, ctx.Err()
		}
	}
	if p.err != nil {
		return ports.PredictResponse{}, p.err
	}
	return ports.PredictResponse{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        []byte(`{"address":"0xabc"}`),
	}, nil
}

func (p *fakePredictor) HealthCheck(ctx context.Context) error { return nil }

type fakeProvider struct {
	event payment.Event
	err   error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ParseWebhook(payload []byte, headers http.Header) (payment.Event, error) {
	if p.err != nil {
		return payment.Event{}, p.err
	}
	ev := p.event
	ev.Provider = p.Name()
	return ev, nil
}

var errForged = errors.New("forged signature")

type testEnv struct {
	store     *memory.AccountStore
	clock     *clock.Fake
	auth      *app.AuthService
	ledger    *app.LedgerService
	predictor *fakePredictor
	proxy     *app.ProxyService
}

func newTestEnv(t *testing.T, refund bool) *testEnv {
	t.Helper()

	clk := clock.NewFake(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	store := memory.NewAccountStore(clk, memory.DefaultShards)
	env := newTestEnvWithStore(t, clk, store, app.ProxyConfig{Timeout: time.Second, RefundOnFailure: refund})
	env.store = store
	return env
}

// newTestEnvWithStore wires the services over any account store.
// The returned env has a nil memory store field.
func newTestEnvWithStore(t *testing.T, clk *clock.Fake, store ports.AccountStore, cfg app.ProxyConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	tokens, err := auth.NewTokenService(testSecret, 0, clk)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	authSvc := app.NewAuthService(app.AuthDeps{
		Accounts: store,
		Hasher:   hasher.Fake{},
		Tokens:   tokens,
		IDGen:    idgen.NewSequential("acct_"),
		Clock:    clk,
		Logger:   logger,
	})
	ledger := app.NewLedgerService(store, logger)
	pred := &fakePredictor{}
	proxySvc := app.NewProxyService(app.ProxyDeps{
		Auth:      authSvc,
		Ledger:    ledger,
		Predictor: pred,
		Clock:     clk,
		IDGen:     idgen.NewSequential("req_"),
		Logger:    logger,
	}, cfg)

	return &testEnv{
		clock:     clk,
		auth:      authSvc,
		ledger:    ledger,
		predictor: pred,
		proxy:     proxySvc,
	}
}

// register creates an account and returns its id and a token.
func (e *testEnv) register(t *testing.T, identity string) (string, string) {
	t.Helper()
	ctx := context.Background()
	id, err := e.auth.Register(ctx, identity, "pw1-secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := e.auth.Login(ctx, identity, "pw1-secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return id, token
}
