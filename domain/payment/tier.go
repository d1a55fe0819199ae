package payment

import (
	"errors"
	"strings"
)

// ErrUnknownTier is returned when event metadata names a tier that is not configured.
var ErrUnknownTier = errors.New("unknown price tier")

// Tier maps a price tier name to what it grants.
type Tier struct {
	Name      string
	Credits   int64
	Unlimited bool
}

// Grant is the outcome of resolving a tier (value type).
// Exactly one of Amount > 0 or Unlimited is set.
type Grant struct {
	Amount    int64
	Unlimited bool
}

// DefaultCredit is credited for a confirmed charge without tier metadata.
const DefaultCredit int64 = 100

// DefaultTiers is the stock pricing table.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "basic", Credits: 10},
		{Name: "standard", Credits: 30},
		{Name: "lifetime", Unlimited: true},
	}
}

// Resolve finds the grant for tier name. An empty name yields defaultCredit.
// Matching is case-insensitive.
func Resolve(tiers []Tier, name string, defaultCredit int64) (Grant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Grant{Amount: defaultCredit}, nil
	}
	for _, t := range tiers {
		if !strings.EqualFold(t.Name, name) {
			continue
		}
		if t.Unlimited {
			return Grant{Unlimited: true}, nil
		}
		return Grant{Amount: t.Credits}, nil
	}
	return Grant{}, ErrUnknownTier
}
