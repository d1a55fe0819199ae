// Package clock provides Clock implementations.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/artpar/metergate/ports"
)

// Real returns the actual current time in UTC.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

var _ ports.Clock = Real{}

// Fake is a controllable clock for tests. Safe for concurrent use.
type Fake struct {
	nanos atomic.Int64
}

// NewFake creates a fake clock set to t.
func NewFake(t time.Time) *Fake {
	f := &Fake{}
	f.Set(t)
	return f
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	return time.Unix(0, f.nanos.Load()).UTC()
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.nanos.Store(t.UnixNano())
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.nanos.Add(int64(d))
}

var _ ports.Clock = (*Fake)(nil)
