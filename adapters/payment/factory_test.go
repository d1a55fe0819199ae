package payment

import (
	"errors"
	"net/http"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		secret   string
		wantName string
		wantErr  bool
	}{
		{"coinbase", "coinbase", "s", "coinbase", false},
		{"stripe", "stripe", "whsec", "stripe", false},
		{"none", "none", "", "none", false},
		{"empty means none", "", "", "none", false},
		{"coinbase without secret", "coinbase", "", "", true},
		{"stripe without secret", "stripe", "", "", true},
		{"unknown", "paypal", "s", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.provider, tt.secret)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", p.Name(), tt.wantName)
			}
		})
	}
}

func TestNoopProvider_RejectsEverything(t *testing.T) {
	p := NewNoopProvider()
	h := http.Header{}
	h.Set(CoinbaseSignatureHeader, SignCoinbase([]byte("{}"), ""))

	if _, err := p.ParseWebhook([]byte("{}"), h); !errors.Is(err, ErrPaymentsDisabled) {
		t.Errorf("ParseWebhook() error = %v, want ErrPaymentsDisabled", err)
	}
}
