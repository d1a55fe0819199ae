// Package payment provides payment provider webhook adapters.
//
// Each provider verifies the processor's signature over the raw body and
// normalizes the event into a payment.Event. Nothing here touches the ledger.
package payment

import "errors"

var (
	// ErrPaymentsDisabled is returned when no provider is configured.
	ErrPaymentsDisabled = errors.New("payments are not configured")

	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature is returned when the signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedEvent is returned for verified payloads that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
)
