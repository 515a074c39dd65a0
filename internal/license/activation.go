package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
)

// DefaultActivationAttempts bounds the read/conditional-write loop.
const DefaultActivationAttempts = 3

// ActivationResult describes a successful activation.
type ActivationResult struct {
	Key              string
	Tier             Tier
	Capacity         int
	AlreadyActivated bool
	ActivatedAt      time.Time
	// Attempts counts conditional writes issued, including the winning one.
	Attempts int
}

// Coordinator binds licenses to owners.
type Coordinator struct {
	store       Store
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithActivationClock overrides time.Now.
func WithActivationClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithMaxAttempts bounds the number of conditional writes per activation.
func WithMaxAttempts(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// NewCoordinator creates a Coordinator
func NewCoordinator(store Store, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:       store,
		logger:      infrastructure.WithComponent(logger, "license_activation"),
		now:         time.Now,
		maxAttempts: DefaultActivationAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate claims key for owner. Re-activating by the same owner succeeds
// without a write.
func (c *Coordinator) Activate(ctx context.Context, owner, key string) (ActivationResult, error) {
	owner = strings.TrimSpace(owner)
	key = NormalizeKey(key)
	if owner == "" {
		return ActivationResult{}, fmt.Errorf("%w: user_id is required", licenseErrors.ErrInvalidInput)
	}
	if key == "" {
		return ActivationResult{}, fmt.Errorf("%w: license_key is required", licenseErrors.ErrInvalidInput)
	}

	logger := c.logger.With(slog.String("license_key", MaskKey(key)))
	writes := 0

	for writes < c.maxAttempts {
		if err := ctx.Err(); err != nil {
			return ActivationResult{}, err
		}

		lic, err := c.store.FindByKey(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return ActivationResult{}, licenseErrors.ErrUnknownLicense
		}
		if err != nil {
			return ActivationResult{}, fmt.Errorf("find license: %w", err)
		}

		switch lic.Owner {
		case owner:
			result := ActivationResult{
				Key:              key,
				Tier:             lic.Tier,
				Capacity:         lic.Tier.Capacity(),
				AlreadyActivated: true,
				Attempts:         writes,
			}
			if lic.ActivatedAt != nil {
				result.ActivatedAt = *lic.ActivatedAt
			}
			logger.DebugContext(ctx, "license already activated by owner")
			return result, nil
		case "":
		default:
			logger.InfoContext(ctx, "activation rejected, license claimed by another owner")
			return ActivationResult{}, licenseErrors.ErrLicenseAlreadyClaimed
		}

		now := c.now().UTC()
		claim := Mutation{
			Claim:     &Claim{Owner: owner, ActivatedAt: now},
			UpdatedAt: now,
		}
		writes++

		err = c.store.UpdateConditional(ctx, key, claim, Predicate{Unclaimed: true})
		switch {
		case err == nil:
			logger.InfoContext(ctx, "license activated",
				slog.String("tier", lic.Tier.String()),
				slog.Int("attempts", writes))
			return ActivationResult{
				Key:         key,
				Tier:        lic.Tier,
				Capacity:    lic.Tier.Capacity(),
				ActivatedAt: now,
				Attempts:    writes,
			}, nil
		case errors.Is(err, ErrConditionFailed):
			logger.InfoContext(ctx, "activation raced with another writer, re-reading",
				slog.Int("attempt", writes))
		case errors.Is(err, ErrNotFound):
			return ActivationResult{}, licenseErrors.ErrUnknownLicense
		default:
			return ActivationResult{}, fmt.Errorf("claim license: %w", err)
		}
	}

	logger.WarnContext(ctx, "activation attempts exhausted", slog.Int("attempts", writes))
	return ActivationResult{}, licenseErrors.ErrConditionRaceExhausted
}
