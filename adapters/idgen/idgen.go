// Package idgen provides ID generation implementations.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/metergate/ports"
	"github.com/google/uuid"
)

// Identifier prefixes.
const (
	AccountPrefix = "acct_"
	RequestPrefix = "req_"
)

// UUID generates prefixed UUID v4 identifiers.
type UUID struct {
	Prefix string
}

// NewAccountIDs returns the generator used for account ids.
func NewAccountIDs() UUID {
	return UUID{Prefix: AccountPrefix}
}

// New generates a new identifier.
func (g UUID) New() string {
	return g.Prefix + uuid.New().String()
}

// NewRequestIDs returns the generator used when a predict call arrives
// without a request id.
func NewRequestIDs() UUID {
	return UUID{Prefix: RequestPrefix}
}

var _ ports.IDGenerator = UUID{}

// Sequential generates sequential IDs (for testing).
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

var _ ports.IDGenerator = (*Sequential)(nil)
