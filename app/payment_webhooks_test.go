package app_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	adapterpayment "github.com/artpar/metergate/adapters/payment"
	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/payment"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76/webhook"
)

func newReconciler(env *testEnv, p *fakeProvider) *app.PaymentReconciler {
	return app.NewPaymentReconciler(p, env.ledger, app.ReconcilerConfig{}, zerolog.New(io.Discard))
}

func confirmed(id, identity, tier string) payment.Event {
	return payment.Event{ID: id, Type: payment.TypeChargeConfirmed, Identity: identity, Tier: tier}
}

func TestPaymentReconciler_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		provider    *fakeProvider
		wantOutcome app.WebhookOutcome
		wantBalance int64
		wantPlan    account.Plan
	}{
		{
			name:        "default credit",
			provider:    &fakeProvider{event: confirmed("evt_1", "alice", "")},
			wantOutcome: app.OutcomeCredited,
			wantBalance: payment.DefaultCredit,
			wantPlan:    account.PlanMetered,
		},
		{
			name:        "basic tier",
			provider:    &fakeProvider{event: confirmed("evt_1", "alice", "Basic")},
			wantOutcome: app.OutcomeCredited,
			wantBalance: 10,
			wantPlan:    account.PlanMetered,
		},
		{
			name:        "lifetime tier",
			provider:    &fakeProvider{event: confirmed("evt_1", "alice", "lifetime")},
			wantOutcome: app.OutcomeGranted,
			wantPlan:    account.PlanUnlimited,
		},
		{
			name:        "unknown tier",
			provider:    &fakeProvider{event: confirmed("evt_1", "alice", "platinum")},
			wantOutcome: app.OutcomeUnknownTier,
			wantPlan:    account.PlanNone,
		},
		{
			name:        "unknown identity",
			provider:    &fakeProvider{event: confirmed("evt_1", "mallory", "")},
			wantOutcome: app.OutcomeUnknownIdentity,
			wantPlan:    account.PlanNone,
		},
		{
			name:        "not confirmed",
			provider:    &fakeProvider{event: payment.Event{ID: "evt_1", Type: payment.TypeOther, Identity: "alice"}},
			wantOutcome: app.OutcomeIgnored,
			wantPlan:    account.PlanNone,
		},
		{
			name:        "unverifiable",
			provider:    &fakeProvider{err: errForged},
			wantOutcome: app.OutcomeInvalidSignature,
			wantPlan:    account.PlanNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			ctx := context.Background()
			id, _ := env.register(t, "alice")

			res := newReconciler(env, tt.provider).Handle(ctx, []byte(`{}`), nil)
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %s, want %s (err %v)", res.Outcome, tt.wantOutcome, res.Err)
			}

			a, _ := env.ledger.Get(ctx, id)
			if a.UsageBalance != tt.wantBalance || a.Plan != tt.wantPlan {
				t.Errorf("account = balance %d plan %s, want %d %s", a.UsageBalance, a.Plan, tt.wantBalance, tt.wantPlan)
			}
		})
	}
}

func TestPaymentReconciler_DuplicateEvent(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")
	r := newReconciler(env, &fakeProvider{event: confirmed("evt_dup", "alice", "standard")})

	if res := r.Handle(ctx, nil, nil); res.Outcome != app.OutcomeCredited {
		t.Fatalf("first Outcome = %s", res.Outcome)
	}
	if res := r.Handle(ctx, nil, nil); res.Outcome != app.OutcomeDuplicate {
		t.Fatalf("second Outcome = %s, want duplicate", res.Outcome)
	}

	a, _ := env.ledger.Get(ctx, id)
	if a.UsageBalance != 30 {
		t.Errorf("balance = %d, want 30 (credited once)", a.UsageBalance)
	}
}

func TestPaymentReconciler_StripeCheckoutCreditsOnce(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	const secret = "whsec_reconciler"
	r := app.NewPaymentReconciler(adapterpayment.NewStripeProvider(secret), env.ledger,
		app.ReconcilerConfig{}, zerolog.New(io.Discard))

	deliver := func(body string) app.WebhookResult {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(body),
			Secret:    secret,
			Timestamp: time.Now(),
		})
		h := http.Header{}
		h.Set(adapterpayment.StripeSignatureHeader, signed.Header)
		return r.Handle(ctx, []byte(body), h)
	}

	session := deliver(`{"id":"evt_A","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","payment_intent":"pi_1","payment_status":"paid","metadata":{"identity":"alice","tier":"standard"}}}}`)
	if session.Outcome != app.OutcomeCredited {
		t.Fatalf("session Outcome = %s (%v)", session.Outcome, session.Err)
	}
	intent := deliver(`{"id":"evt_B","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"identity":"alice","tier":"standard"}}}}`)
	if intent.Outcome != app.OutcomeDuplicate {
		t.Fatalf("intent Outcome = %s, want duplicate", intent.Outcome)
	}

	a, _ := env.ledger.Get(ctx, id)
	if a.UsageBalance != 30 {
		t.Errorf("balance = %d, want 30 (one payment credited once)", a.UsageBalance)
	}
}

func TestPaymentReconciler_CustomTiers(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	id, _ := env.register(t, "alice")

	r := app.NewPaymentReconciler(
		&fakeProvider{event: confirmed("evt_1", "alice", "")},
		env.ledger,
		app.ReconcilerConfig{DefaultCredit: 25, Tiers: []payment.Tier{{Name: "pro", Credits: 500}}},
		zerolog.New(io.Discard),
	)
	r.Handle(ctx, nil, nil)

	a, _ := env.ledger.Get(ctx, id)
	if a.UsageBalance != 25 {
		t.Errorf("balance = %d, want 25", a.UsageBalance)
	}
	if r.Provider() != "fake" {
		t.Errorf("Provider() = %s", r.Provider())
	}
}
