package license

import (
	"context"
	"fmt"
	"strings"

	licenseErrors "licensed/internal/errors"
)

// DefaultBaselineCapacity is granted to owners without a license.
const DefaultBaselineCapacity = 1

// Entitlement is what an owner may use right now.
type Entitlement struct {
	Owner    string
	Valid    bool
	Capacity int
	// Tier is the best owned tier, TierUnknown when Valid is false.
	Tier     Tier
	Licenses int
}

// EntitlementService answers entitlement queries.
type EntitlementService struct {
	store    Store
	baseline int
}

// NewEntitlementService creates an EntitlementService. A non-positive
// baseline falls back to DefaultBaselineCapacity.
func NewEntitlementService(store Store, baseline int) *EntitlementService {
	if baseline <= 0 {
		baseline = DefaultBaselineCapacity
	}
	return &EntitlementService{store: store, baseline: baseline}
}

// Baseline returns the capacity reported for owners without licenses.
func (s *EntitlementService) Baseline() int {
	return s.baseline
}

// Query returns the highest capacity among the owner's licenses.
func (s *EntitlementService) Query(ctx context.Context, owner string) (Entitlement, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Entitlement{}, fmt.Errorf("%w: user_id is required", licenseErrors.ErrInvalidInput)
	}

	licenses, err := s.store.FindAllByOwner(ctx, owner)
	if err != nil {
		return Entitlement{}, fmt.Errorf("find licenses by owner: %w", err)
	}

	ent := Entitlement{Owner: owner, Capacity: s.baseline}
	for _, lic := range licenses {
		if lic.Owner != owner {
			continue
		}
		ent.Licenses++
		if !ent.Valid || lic.Tier.Capacity() > ent.Capacity {
			ent.Capacity = lic.Tier.Capacity()
			ent.Tier = lic.Tier
		}
		ent.Valid = true
	}

	return ent, nil
}
