package payment

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/metergate/domain/payment"
	"github.com/artpar/metergate/ports"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tidwall/gjson"
)

// StripeSignatureHeader is the header Stripe signs deliveries with.
const StripeSignatureHeader = "Stripe-Signature"

// StripeProvider verifies Stripe webhooks.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider creates a Stripe webhook verifier.
func NewStripeProvider(webhookSecret string) *StripeProvider {
	return &StripeProvider{webhookSecret: webhookSecret}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// ParseWebhook parses and validates a Stripe webhook.
func (p *StripeProvider) ParseWebhook(payload []byte, headers http.Header) (payment.Event, error) {
	signature := headers.Get(StripeSignatureHeader)
	if signature == "" {
		return payment.Event{}, ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return payment.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return payment.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.ID == "" {
		return payment.Event{}, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	var obj gjson.Result
	if event.Data != nil {
		obj = gjson.ParseBytes(event.Data.Raw)
	}
	meta := obj.Get("metadata")

	return payment.Event{
		ID:       event.ID,
		ChargeID: stripeCharge(event.Type, obj),
		Type:     stripeType(event.Type, obj),
		Identity: firstString(meta, "identity", "username", "email"),
		Tier:     firstString(meta, "tier", "plan"),
		Provider: p.Name(),
	}, nil
}

// stripeType treats a completed, paid checkout and a succeeded payment
// intent as a confirmed charge.
func stripeType(t stripe.EventType, obj gjson.Result) payment.EventType {
	switch t {
	case "checkout.session.completed":
		if status := obj.Get("payment_status"); status.Exists() && status.String() != "paid" {
			return payment.TypeOther
		}
		return payment.TypeChargeConfirmed
	case "payment_intent.succeeded":
		return payment.TypeChargeConfirmed
	default:
		return payment.TypeOther
	}
}

// stripeCharge returns the PaymentIntent behind the event. A Checkout payment
// emits both a session and an intent event and both resolve to the intent id.
func stripeCharge(t stripe.EventType, obj gjson.Result) string {
	switch t {
	case "checkout.session.completed":
		return obj.Get("payment_intent").String()
	case "payment_intent.succeeded":
		return obj.Get("id").String()
	}
	return ""
}

var _ ports.PaymentProvider = (*StripeProvider)(nil)
