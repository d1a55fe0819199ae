// Package hasher provides password hashing implementations.
package hasher

import (
	"errors"
	"sync"

	"github.com/artpar/metergate/ports"
	"golang.org/x/crypto/bcrypt"
)

// ErrTooLong is returned for passwords bcrypt would silently truncate.
var ErrTooLong = errors.New("password exceeds 72 bytes")

const maxPasswordBytes = 72

// Bcrypt uses bcrypt for hashing.
type Bcrypt struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewBcrypt creates a bcrypt hasher with the given cost.
// Out-of-range costs fall back to bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Cost returns the effective work factor.
func (h *Bcrypt) Cost() int { return h.cost }

// Hash generates a bcrypt hash from plaintext.
func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	if len(plaintext) > maxPasswordBytes {
		return nil, ErrTooLong
	}
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare checks if plaintext matches hash.
// A nil hash runs a comparison against a throwaway hash of the same cost
// so that unknown identities take as long as wrong passwords.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	if hash == nil {
		h.dummyOnce.Do(func() {
			h.dummy, _ = bcrypt.GenerateFromPassword([]byte("metergate-dummy"), h.cost)
		})
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// Ensure interface compliance.
var _ ports.Hasher = (*Bcrypt)(nil)

// Fake stores plaintext with a marker prefix (NOT FOR PRODUCTION).
type Fake struct{}

const fakePrefix = "fake$"

// Hash returns the marked plaintext.
func (Fake) Hash(plaintext string) ([]byte, error) {
	if len(plaintext) > maxPasswordBytes {
		return nil, ErrTooLong
	}
	return []byte(fakePrefix + plaintext), nil
}

// Compare does a simple equality check; a nil hash never matches.
func (Fake) Compare(hash []byte, plaintext string) bool {
	return hash != nil && string(hash) == fakePrefix+plaintext
}

var _ ports.Hasher = Fake{}
