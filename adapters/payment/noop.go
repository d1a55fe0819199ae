package payment

import (
	"net/http"

	"github.com/artpar/metergate/domain/payment"
	"github.com/artpar/metergate/ports"
)

// NoopProvider rejects every webhook as unverifiable.
type NoopProvider struct{}

// NewNoopProvider creates a new no-op payment provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Name returns the provider name.
func (p *NoopProvider) Name() string {
	return "none"
}

// ParseWebhook always fails: with no secret there is nothing to verify against.
func (p *NoopProvider) ParseWebhook(payload []byte, headers http.Header) (payment.Event, error) {
	return payment.Event{}, ErrPaymentsDisabled
}

var _ ports.PaymentProvider = (*NoopProvider)(nil)
