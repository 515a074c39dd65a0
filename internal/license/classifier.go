package license

import (
	"math"
	"strconv"
	"strings"
)

// Signals are the purchase attributes the classifier looks at.
type Signals struct {
	ProductID   string
	ProductName string
	Price       string
	Currency    string
	Key         string
}

// PriceBand maps an inclusive price range, in currency units, to a tier.
// An empty Currency matches any currency.
type PriceBand struct {
	Tier     Tier
	Min      float64
	Max      float64
	Currency string
}

type markerSet struct {
	tier    Tier
	markers []string
}

// Premium is checked before Standard in every rule.
var (
	slugMarkers = []markerSet{
		{TierPremium, []string{"6_", "6-multihotplayer", "6_multihotplayer", "6screen"}},
		{TierStandard, []string{"4_", "4-multihotplayer", "4_multihotplayer", "4screen"}},
	}
	nameMarkers = []markerSet{
		{TierPremium, []string{"6 screen", "6屏", "6屏幕", "专业版", "professional", "full version"}},
		{TierStandard, []string{"4 screen", "4屏", "4屏幕", "标准版", "standard"}},
	}
	keyMarkers = []markerSet{
		{TierPremium, []string{"PRO", "FULL"}},
		{TierStandard, []string{"STD"}},
	}
)

// DefaultPriceBands are the storefront's USD price points.
func DefaultPriceBands() []PriceBand {
	return []PriceBand{
		{Tier: TierPremium, Min: 1.80, Max: 1.99, Currency: "USD"},
		{Tier: TierStandard, Min: 0.80, Max: 0.99, Currency: "USD"},
	}
}

// Classifier derives a Tier from purchase signals. It is safe for
// concurrent use.
type Classifier struct {
	bands []PriceBand
}

// NewClassifier returns a classifier using bands, or DefaultPriceBands when
// none are given.
func NewClassifier(bands ...PriceBand) *Classifier {
	if len(bands) == 0 {
		bands = DefaultPriceBands()
	}
	return &Classifier{bands: append([]PriceBand(nil), bands...)}
}

var defaultClassifier = NewClassifier()

// Classify classifies with the default price bands.
func Classify(s Signals) Tier {
	return defaultClassifier.Classify(s)
}

// Classify applies, in order: product slug markers, product name markers,
// price band, key markers. Absent any match the result is TierBasic.
func (c *Classifier) Classify(s Signals) Tier {
	if tier, ok := matchMarkers(strings.ToLower(s.ProductID), slugMarkers); ok {
		return tier
	}
	if tier, ok := matchMarkers(strings.ToLower(s.ProductName), nameMarkers); ok {
		return tier
	}
	if tier, ok := c.matchPrice(s.Price, s.Currency); ok {
		return tier
	}
	if tier, ok := matchMarkers(strings.ToUpper(s.Key), keyMarkers); ok {
		return tier
	}
	return TierBasic
}

func matchMarkers(value string, sets []markerSet) (Tier, bool) {
	if value == "" {
		return TierUnknown, false
	}
	for _, set := range sets {
		for _, marker := range set.markers {
			if strings.Contains(value, marker) {
				return set.tier, true
			}
		}
	}
	return TierUnknown, false
}

// matchPrice compares the price as given: 1.994 is outside 1.80-1.99.
func (c *Classifier) matchPrice(price, currency string) (Tier, bool) {
	v, ok := parsePrice(price)
	if !ok {
		return TierUnknown, false
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))

	for _, band := range c.bands {
		if band.Currency != "" && currency != "" && !strings.EqualFold(band.Currency, currency) {
			continue
		}
		if v >= band.Min && v <= band.Max {
			return band.Tier, true
		}
	}
	return TierUnknown, false
}

// ParsePriceCents parses a decimal price such as "1.99" or "$1.99" into
// cents. Negative, empty and malformed prices are rejected.
func ParsePriceCents(price string) (int64, bool) {
	v, ok := parsePrice(price)
	if !ok {
		return 0, false
	}
	return int64(math.Round(v * 100)), true
}

func parsePrice(price string) (float64, bool) {
	price = strings.TrimPrefix(strings.TrimSpace(price), "$")
	if price == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(price, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
