package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/metergate/domain/payment"
	"github.com/artpar/metergate/ports"
	"github.com/tidwall/gjson"
)

// CoinbaseSignatureHeader carries the hex HMAC-SHA256 of the raw body.
const CoinbaseSignatureHeader = "X-CC-Webhook-Signature"

// CoinbaseProvider verifies Coinbase Commerce webhooks.
type CoinbaseProvider struct {
	secret []byte
}

// NewCoinbaseProvider creates a Coinbase Commerce webhook verifier.
func NewCoinbaseProvider(webhookSecret string) *CoinbaseProvider {
	return &CoinbaseProvider{secret: []byte(webhookSecret)}
}

// Name returns the provider name.
func (p *CoinbaseProvider) Name() string {
	return "coinbase"
}

// ParseWebhook verifies the signature and decodes the event.
// Deliveries wrap the event in {"event": {...}}; a bare event is accepted too.
func (p *CoinbaseProvider) ParseWebhook(payload []byte, headers http.Header) (payment.Event, error) {
	signature := strings.TrimSpace(headers.Get(CoinbaseSignatureHeader))
	if signature == "" {
		return payment.Event{}, ErrMissingSignature
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expectedSig)) {
		return payment.Event{}, ErrInvalidSignature
	}

	if !gjson.ValidBytes(payload) {
		return payment.Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	ev := gjson.GetBytes(payload, "event")
	if !ev.IsObject() {
		ev = gjson.ParseBytes(payload)
	}

	id := ev.Get("id").String()
	if id == "" {
		return payment.Event{}, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	meta := ev.Get("data.metadata")
	return payment.Event{
		ID:       id,
		Type:     coinbaseType(ev.Get("type").String()),
		Identity: firstString(meta, "identity", "username", "email"),
		Tier:     firstString(meta, "tier", "plan"),
		Provider: p.Name(),
	}, nil
}

func coinbaseType(t string) payment.EventType {
	if t == "charge:confirmed" {
		return payment.TypeChargeConfirmed
	}
	return payment.TypeOther
}

// firstString returns the first non-empty string field of obj among keys.
func firstString(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(obj.Get(k).String()); v != "" {
			return v
		}
	}
	return ""
}

// SignCoinbase returns the signature header value for payload (for tests and tooling).
func SignCoinbase(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ ports.PaymentProvider = (*CoinbaseProvider)(nil)
