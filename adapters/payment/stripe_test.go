package payment

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/artpar/metergate/domain/payment"
	"github.com/stripe/stripe-go/v76/webhook"
)

const stripeSecret = "whsec_test_secret"

func signStripe(t *testing.T, payload []byte, secret string, ts time.Time) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	})
	h := http.Header{}
	h.Set(StripeSignatureHeader, signed.Header)
	return h
}

func TestStripeProvider_Name(t *testing.T) {
	if got := NewStripeProvider(stripeSecret).Name(); got != "stripe" {
		t.Errorf("Name() = %s, want stripe", got)
	}
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	p := NewStripeProvider(stripeSecret)

	tests := []struct {
		name    string
		payload string
		want    payment.Event
	}{
		{
			name:    "paid checkout session",
			payload: `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_intent":"pi_1","payment_status":"paid","metadata":{"identity":"alice","tier":"standard"}}}}`,
			want:    payment.Event{ID: "evt_1", ChargeID: "pi_1", Type: payment.TypeChargeConfirmed, Identity: "alice", Tier: "standard", Provider: "stripe"},
		},
		{
			name:    "unpaid checkout session",
			payload: `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"payment_status":"unpaid","metadata":{"identity":"alice"}}}}`,
			want:    payment.Event{ID: "evt_2", Type: payment.TypeOther, Identity: "alice", Provider: "stripe"},
		},
		{
			name:    "succeeded payment intent with username",
			payload: `{"id":"evt_3","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_3","object":"payment_intent","metadata":{"username":"bob","plan":"lifetime"}}}}`,
			want:    payment.Event{ID: "evt_3", ChargeID: "pi_3", Type: payment.TypeChargeConfirmed, Identity: "bob", Tier: "lifetime", Provider: "stripe"},
		},
		{
			name:    "unrelated event",
			payload: `{"id":"evt_4","object":"event","type":"customer.created","data":{"object":{}}}`,
			want:    payment.Event{ID: "evt_4", Type: payment.TypeOther, Provider: "stripe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.payload)
			got, err := p.ParseWebhook(body, signStripe(t, body, stripeSecret, time.Now()))
			if err != nil {
				t.Fatalf("ParseWebhook() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseWebhook() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStripeProvider_CheckoutAndIntentShareKey(t *testing.T) {
	p := NewStripeProvider(stripeSecret)

	session := []byte(`{"id":"evt_A","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","payment_intent":"pi_1","payment_status":"paid","metadata":{"identity":"alice","tier":"standard"}}}}`)
	intent := []byte(`{"id":"evt_B","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"identity":"alice","tier":"standard"}}}}`)

	a, err := p.ParseWebhook(session, signStripe(t, session, stripeSecret, time.Now()))
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	b, err := p.ParseWebhook(intent, signStripe(t, intent, stripeSecret, time.Now()))
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	if a.IdempotencyKey() != b.IdempotencyKey() {
		t.Errorf("keys differ: %q vs %q", a.IdempotencyKey(), b.IdempotencyKey())
	}
	if a.IdempotencyKey() != "payment:stripe:pi_1" {
		t.Errorf("key = %q, want payment:stripe:pi_1", a.IdempotencyKey())
	}
}

func TestStripeProvider_ParseWebhook_Rejects(t *testing.T) {
	p := NewStripeProvider(stripeSecret)
	body := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)

	t.Run("missing signature", func(t *testing.T) {
		_, err := p.ParseWebhook(body, http.Header{})
		if !errors.Is(err, ErrMissingSignature) {
			t.Errorf("error = %v, want ErrMissingSignature", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := p.ParseWebhook(body, signStripe(t, body, "whsec_other", time.Now()))
		if !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("error = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		_, err := p.ParseWebhook(body, signStripe(t, body, stripeSecret, time.Now().Add(-time.Hour)))
		if !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("error = %v, want ErrInvalidSignature", err)
		}
	})
}
