package license

import (
	"maps"
	"time"
)

// License is a purchased entitlement identified by its key.
type License struct {
	Key         string
	Tier        Tier
	Owner       string
	Provenance  Provenance
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ActivatedAt *time.Time
}

// Claimed reports whether an owner has activated the license.
func (l *License) Claimed() bool {
	return l.Owner != ""
}

// Clone returns a deep copy so stores can hand out rows without aliasing.
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	c := *l
	c.Provenance = l.Provenance.clone()
	if l.ActivatedAt != nil {
		at := *l.ActivatedAt
		c.ActivatedAt = &at
	}
	return &c
}

// Provenance records where a license came from. It is informational and
// never used for authorization.
type Provenance struct {
	SourceOrderID string
	PurchaseEmail string
	Product       string
	PurchaserID   string
	PriceCents    *int64
	Currency      string
	PurchasedAt   *time.Time
	Metadata      map[string]string
}

// Equal compares every provenance field.
func (p Provenance) Equal(o Provenance) bool {
	if p.SourceOrderID != o.SourceOrderID ||
		p.PurchaseEmail != o.PurchaseEmail ||
		p.Product != o.Product ||
		p.PurchaserID != o.PurchaserID ||
		p.Currency != o.Currency {
		return false
	}
	if (p.PriceCents == nil) != (o.PriceCents == nil) || (p.PriceCents != nil && *p.PriceCents != *o.PriceCents) {
		return false
	}
	if (p.PurchasedAt == nil) != (o.PurchasedAt == nil) || (p.PurchasedAt != nil && !p.PurchasedAt.Equal(*o.PurchasedAt)) {
		return false
	}
	return maps.Equal(p.Metadata, o.Metadata)
}

func (p Provenance) clone() Provenance {
	c := p
	if p.PriceCents != nil {
		v := *p.PriceCents
		c.PriceCents = &v
	}
	if p.PurchasedAt != nil {
		v := *p.PurchasedAt
		c.PurchasedAt = &v
	}
	c.Metadata = maps.Clone(p.Metadata)
	return c
}

// Claim binds a license to an owner. Owner and ActivatedAt are always
// written together.
type Claim struct {
	Owner       string
	ActivatedAt time.Time
}

// Mutation lists the fields an update writes. Nil fields are left as stored.
type Mutation struct {
	Tier       *Tier
	Provenance *Provenance
	Claim      *Claim
	UpdatedAt  time.Time
}

// Apply writes the mutation onto l.
func (m Mutation) Apply(l *License) {
	if m.Tier != nil {
		l.Tier = *m.Tier
	}
	if m.Provenance != nil {
		l.Provenance = m.Provenance.clone()
	}
	if m.Claim != nil {
		l.Owner = m.Claim.Owner
		at := m.Claim.ActivatedAt
		l.ActivatedAt = &at
	}
	if !m.UpdatedAt.IsZero() {
		l.UpdatedAt = m.UpdatedAt
	}
}

// Predicate guards a conditional update.
type Predicate struct {
	// Unclaimed requires the stored owner to be unset.
	Unclaimed bool
}

// Holds evaluates the predicate against the stored row.
func (p Predicate) Holds(l *License) bool {
	if p.Unclaimed && l.Claimed() {
		return false
	}
	return true
}
