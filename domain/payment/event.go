// Package payment provides payment event and price tier value types.
// All functions are deterministic with no side effects.
package payment

import "fmt"

// EventType is a provider-neutral event classification.
type EventType string

const (
	// TypeChargeConfirmed is the only event type that credits an account.
	TypeChargeConfirmed EventType = "charge_confirmed"

	// TypeOther covers every event the reconciler ignores.
	TypeOther EventType = "other"
)

// Event is a verified, normalized webhook event (value type).
type Event struct {
	ID       string    // processor event id, unique per provider
	ChargeID string    // payment the event is about, shared by every event for it
	Type     EventType // normalized type
	Identity string    // account identity from event metadata
	Tier     string    // price tier name from metadata, may be empty
	Provider string
}

// Confirmed reports whether the event represents a completed charge.
func (e Event) Confirmed() bool {
	return e.Type == TypeChargeConfirmed
}

// IdempotencyKey returns the ledger key that guards this event's credit.
// Events that name the same charge share a key, so a payment announced
// twice is credited once.
func (e Event) IdempotencyKey() string {
	ref := e.ChargeID
	if ref == "" {
		ref = e.ID
	}
	return fmt.Sprintf("payment:%s:%s", e.Provider, ref)
}
