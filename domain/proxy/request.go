// Package proxy provides request value types and validation for the
// metered prediction call.
package proxy

import (
	"errors"
	"strconv"
	"strings"

	"github.com/artpar/metergate/ports"
	"github.com/tidwall/gjson"
)

// Validation errors.
var (
	ErrBodyTooLarge    = errors.New("request body too large")
	ErrMalformedBody   = errors.New("request body must be a JSON object")
	ErrAddressRequired = errors.New("contractAddress is required")
	ErrAddressInvalid  = errors.New("contractAddress must be a 0x-prefixed 40 hex digit address")
	ErrNonceInvalid    = errors.New("nonce must be a non-negative integer")
)

// MaxBodyBytes bounds the accepted predict payload.
const MaxBodyBytes = 64 << 10

// ParsePredict extracts and validates a predict payload.
// nonce may be a JSON number or a decimal string; it is optional.
func ParsePredict(body []byte) (ports.PredictRequest, error) {
	if len(body) > MaxBodyBytes {
		return ports.PredictRequest{}, ErrBodyTooLarge
	}
	if !gjson.ValidBytes(body) {
		return ports.PredictRequest{}, ErrMalformedBody
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return ports.PredictRequest{}, ErrMalformedBody
	}

	addr := root.Get("contractAddress")
	if !addr.Exists() || addr.Type == gjson.Null || strings.TrimSpace(addr.String()) == "" {
		return ports.PredictRequest{}, ErrAddressRequired
	}
	if addr.Type != gjson.String || !ValidAddress(strings.TrimSpace(addr.Str)) {
		return ports.PredictRequest{}, ErrAddressInvalid
	}

	req := ports.PredictRequest{ContractAddress: strings.TrimSpace(addr.Str)}

	nonce := root.Get("nonce")
	if nonce.Exists() && nonce.Type != gjson.Null {
		n, err := parseNonce(nonce)
		if err != nil {
			return ports.PredictRequest{}, err
		}
		req.Nonce = &n
	}
	return req, nil
}

func parseNonce(v gjson.Result) (int64, error) {
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return 0, ErrNonceInvalid
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrNonceInvalid
	}
	return n, nil
}

// ValidAddress reports whether s is 0x followed by exactly 40 hex digits.
// Checksum casing is not enforced.
func ValidAddress(s string) bool {
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
