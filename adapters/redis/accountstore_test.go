package redis

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/artpar/metergate/adapters/clock"
	"github.com/artpar/metergate/adapters/storetest"
	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/ports"
	"github.com/google/uuid"
)

func TestParseReply(t *testing.T) {
	status, fields, err := parseReply([]interface{}{"ok", "id", "acct_1", "plan", "metered"})
	if err != nil {
		t.Fatalf("parseReply failed: %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}
	if fields["id"] != "acct_1" || fields["plan"] != "metered" {
		t.Errorf("fields = %v", fields)
	}

	if _, _, err := parseReply("nope"); err == nil {
		t.Error("expected error for non-array reply")
	}
	if _, _, err := parseReply([]interface{}{}); err == nil {
		t.Error("expected error for empty reply")
	}
}

func TestDecodeAccount(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	a, err := decodeAccount(map[string]string{
		"id":            "acct_1",
		"identity":      "alice",
		"password_hash": "hash",
		"usage_balance": "7",
		"plan":          "metered",
		"created_at":    "1705320000000000000",
		"updated_at":    "1705320000000000000",
	})
	if err != nil {
		t.Fatalf("decodeAccount failed: %v", err)
	}
	if a.UsageBalance != 7 || a.Plan != account.PlanMetered || string(a.PasswordHash) != "hash" {
		t.Errorf("account = %+v", a)
	}
	if !a.CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, ts)
	}

	if _, err := decodeAccount(map[string]string{"usage_balance": "x"}); err == nil {
		t.Error("expected decode error")
	}
}

func TestResult_Statuses(t *testing.T) {
	s := &AccountStore{}
	fields := []interface{}{"id", "acct_1", "usage_balance", "0", "plan", "metered", "created_at", "0", "updated_at", "0"}

	tests := []struct {
		status  string
		wantErr error
	}{
		{"ok", nil},
		{"exhausted", ports.ErrQuotaExhausted},
		{"applied", ports.ErrAlreadyApplied},
		{"missing", ports.ErrNotFound},
		{"limit", ports.ErrBalanceLimit},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			_, err := s.result("acct_1", append([]interface{}{tt.status}, fields...))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// clusterTag returns the part of key Redis Cluster hashes, following the
// first {...} rule.
func clusterTag(key string) string {
	open := strings.IndexByte(key, '{')
	if open < 0 {
		return key
	}
	end := strings.IndexByte(key[open+1:], '}')
	if end <= 0 {
		return key
	}
	return key[open+1 : open+1+end]
}

func TestKeys_ShareClusterSlot(t *testing.T) {
	s := NewAccountStore(nil, "", clock.Real{})

	acct, applied := s.accountKey("acct_1"), s.appliedKey("acct_1")
	if clusterTag(acct) != "acct_1" || clusterTag(applied) != "acct_1" {
		t.Errorf("keys %q and %q do not hash on the account id", acct, applied)
	}
	if acct == applied {
		t.Errorf("account and applied keys collide: %q", acct)
	}
	if !strings.HasPrefix(acct, DefaultPrefix) {
		t.Errorf("account key %q lacks prefix %q", acct, DefaultPrefix)
	}
	if clusterTag(s.accountKey("acct_2")) == clusterTag(acct) {
		t.Error("different accounts share a hash tag")
	}
}

// TestAccountStore_Conformance runs against a real server when
// METERGATE_TEST_REDIS_URL is set. Each run uses a fresh key prefix.
func TestAccountStore_Conformance(t *testing.T) {
	url := os.Getenv("METERGATE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("METERGATE_TEST_REDIS_URL not set")
	}
	storetest.Run(t, func(t *testing.T) ports.AccountStore {
		client, err := Open(context.Background(), url)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return NewAccountStore(client, "metergate-test:"+uuid.NewString()+":", clock.Real{})
	})
}
