package payment

import (
	"fmt"

	"github.com/artpar/metergate/ports"
)

// NewProvider creates the webhook verifier for the named provider.
func NewProvider(name, webhookSecret string) (ports.PaymentProvider, error) {
	switch name {
	case "coinbase":
		if webhookSecret == "" {
			return nil, fmt.Errorf("coinbase webhook secret is required")
		}
		return NewCoinbaseProvider(webhookSecret), nil

	case "stripe":
		if webhookSecret == "" {
			return nil, fmt.Errorf("stripe webhook secret is required")
		}
		return NewStripeProvider(webhookSecret), nil

	case "none", "":
		return NewNoopProvider(), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s", name)
	}
}
