package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/apperr"
	"github.com/artpar/metergate/domain/payment"
	"github.com/artpar/metergate/ports"
	"github.com/rs/zerolog"
)

// WebhookOutcome classifies how a payment webhook was handled.
type WebhookOutcome string

const (
	OutcomeCredited         WebhookOutcome = "credited"
	OutcomeGranted          WebhookOutcome = "granted"
	OutcomeDuplicate        WebhookOutcome = "duplicate"
	OutcomeIgnored          WebhookOutcome = "ignored"
	OutcomeInvalidSignature WebhookOutcome = "invalid_signature"
	OutcomeUnknownIdentity  WebhookOutcome = "unknown_identity"
	OutcomeUnknownTier      WebhookOutcome = "unknown_tier"
	OutcomeError            WebhookOutcome = "error"
)

// WebhookResult represents the outcome of one webhook delivery.
type WebhookResult struct {
	Outcome WebhookOutcome
	Event   payment.Event
	Grant   payment.Grant
	Account account.Account
	Err     error
}

// PaymentReconciler turns verified payment events into ledger credits.
// Every delivery is acknowledged; failures surface only in logs and metrics.
type PaymentReconciler struct {
	provider      ports.PaymentProvider
	ledger        *LedgerService
	tiers         []payment.Tier
	defaultCredit int64
	logger        zerolog.Logger
}

// ReconcilerConfig contains configuration for PaymentReconciler.
type ReconcilerConfig struct {
	Tiers         []payment.Tier
	DefaultCredit int64
}

// NewPaymentReconciler creates a new payment reconciler.
func NewPaymentReconciler(provider ports.PaymentProvider, ledger *LedgerService, cfg ReconcilerConfig, logger zerolog.Logger) *PaymentReconciler {
	if cfg.DefaultCredit <= 0 {
		cfg.DefaultCredit = payment.DefaultCredit
	}
	if cfg.Tiers == nil {
		cfg.Tiers = payment.DefaultTiers()
	}
	return &PaymentReconciler{
		provider:      provider,
		ledger:        ledger,
		tiers:         cfg.Tiers,
		defaultCredit: cfg.DefaultCredit,
		logger:        logger,
	}
}

// Provider returns the name of the configured payment provider.
func (r *PaymentReconciler) Provider() string {
	return r.provider.Name()
}

// Handle verifies and applies one webhook delivery.
func (r *PaymentReconciler) Handle(ctx context.Context, payload []byte, headers http.Header) WebhookResult {
	log := r.logger.With().Str("provider", r.provider.Name()).Logger()

	ev, err := r.provider.ParseWebhook(payload, headers)
	if err != nil {
		log.Error().Err(err).Msg("rejected unverifiable payment webhook")
		return WebhookResult{Outcome: OutcomeInvalidSignature, Err: err}
	}
	log = log.With().Str("event_id", ev.ID).Str("charge_id", ev.ChargeID).Logger()

	if !ev.Confirmed() {
		log.Debug().Str("type", string(ev.Type)).Msg("ignoring payment event")
		return WebhookResult{Outcome: OutcomeIgnored, Event: ev}
	}

	grant, err := payment.Resolve(r.tiers, ev.Tier, r.defaultCredit)
	if err != nil {
		log.Error().Err(err).Str("tier", ev.Tier).Msg("confirmed charge for unknown tier, not credited")
		return WebhookResult{Outcome: OutcomeUnknownTier, Event: ev, Err: err}
	}

	acct, err := r.ledger.Find(ctx, ev.Identity)
	if apperr.Is(err, apperr.KindNotFound) {
		log.Warn().Str("identity", ev.Identity).Msg("confirmed charge for unknown identity")
		return WebhookResult{Outcome: OutcomeUnknownIdentity, Event: ev, Grant: grant, Err: err}
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to look up paying account")
		return WebhookResult{Outcome: OutcomeError, Event: ev, Grant: grant, Err: err}
	}

	outcome := OutcomeCredited
	if grant.Unlimited {
		outcome = OutcomeGranted
		acct, err = r.ledger.GrantUnlimited(ctx, acct.ID, ev.IdempotencyKey())
	} else {
		acct, err = r.ledger.Credit(ctx, acct.ID, grant.Amount, ev.IdempotencyKey())
	}

	switch {
	case errors.Is(err, ports.ErrAlreadyApplied):
		log.Info().Str("account_id", acct.ID).Msg("duplicate payment event")
		return WebhookResult{Outcome: OutcomeDuplicate, Event: ev, Grant: grant, Account: acct}
	case err != nil:
		log.Error().Err(err).Msg("failed to apply payment credit")
		return WebhookResult{Outcome: OutcomeError, Event: ev, Grant: grant, Err: err}
	}

	log.Info().
		Str("account_id", acct.ID).
		Int64("amount", grant.Amount).
		Bool("unlimited", grant.Unlimited).
		Int64("balance", acct.UsageBalance).
		Msg("payment applied")
	return WebhookResult{Outcome: outcome, Event: ev, Grant: grant, Account: acct}
}
