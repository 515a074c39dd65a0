package license

import (
	"fmt"
	"strings"
)

// Tier is the purchased product level. Tiers are ordered; a higher tier
// always grants more screens.
type Tier int

const (
	TierUnknown Tier = iota
	TierBasic
	TierStandard
	TierPremium
)

var tierNames = map[Tier]string{
	TierBasic:    "basic",
	TierStandard: "standard",
	TierPremium:  "premium",
}

var tierCapacity = map[Tier]int{
	TierBasic:    2,
	TierStandard: 4,
	TierPremium:  6,
}

// Capacity returns the number of concurrent screens the tier unlocks.
func (t Tier) Capacity() int {
	return tierCapacity[t]
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// ScreenSlug is the legacy product label, e.g. "6screen".
func (t Tier) ScreenSlug() string {
	return fmt.Sprintf("%dscreen", t.Capacity())
}

// MarshalText implements encoding.TextMarshaler
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier accepts a tier name or a legacy screen slug.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic", "2screen":
		return TierBasic, nil
	case "standard", "4screen":
		return TierStandard, nil
	case "premium", "6screen":
		return TierPremium, nil
	default:
		return TierUnknown, fmt.Errorf("unknown tier %q", s)
	}
}
