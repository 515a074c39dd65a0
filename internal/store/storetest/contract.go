// Package storetest holds the behavioural contract every license.Store
// implementation must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"licensed/internal/license"
)

// Factory returns an empty store. Cleanup belongs in t.Cleanup.
type Factory func(t *testing.T) license.Store

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("FindByKeyMissing", func(t *testing.T) { testFindByKeyMissing(t, newStore(t)) })
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newStore(t)) })
	t.Run("InsertConflict", func(t *testing.T) { testInsertConflict(t, newStore(t)) })
	t.Run("UpdateUnconditional", func(t *testing.T) { testUpdateUnconditional(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("ConditionalClaim", func(t *testing.T) { testConditionalClaim(t, newStore(t)) })
	t.Run("FindAllByOwner", func(t *testing.T) { testFindAllByOwner(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrentInserts(t, newStore(t)) })
}

// NewLicense builds an unclaimed license with full provenance.
func NewLicense(key string, tier license.Tier) *license.License {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cents := int64(199)
	purchased := now.Add(-time.Hour)
	return &license.License{
		Key:  key,
		Tier: tier,
		Provenance: license.Provenance{
			SourceOrderID: "order-" + key,
			PurchaseEmail: "buyer@example.com",
			Product:       "6_multihotplayer",
			PurchaserID:   "purchaser-1",
			PriceCents:    &cents,
			Currency:      "USD",
			PurchasedAt:   &purchased,
			Metadata:      map[string]string{"variants": "Lifetime"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testFindByKeyMissing(t *testing.T, s license.Store) {
	_, err := s.FindByKey(context.Background(), "NOPE-0000")
	assert.ErrorIs(t, err, license.ErrNotFound)
}

func testInsertAndFind(t *testing.T, s license.Store) {
	ctx := context.Background()
	want := NewLicense("ABCD-1111", license.TierPremium)

	require.NoError(t, s.InsertIfAbsent(ctx, want))

	got, err := s.FindByKey(ctx, want.Key)
	require.NoError(t, err)
	assertSameLicense(t, want, got)
	assert.False(t, got.Claimed())
	assert.Nil(t, got.ActivatedAt)
}

func testInsertConflict(t *testing.T, s license.Store) {
	ctx := context.Background()
	first := NewLicense("ABCD-2222", license.TierBasic)
	require.NoError(t, s.InsertIfAbsent(ctx, first))

	second := NewLicense("ABCD-2222", license.TierPremium)
	err := s.InsertIfAbsent(ctx, second)
	assert.ErrorIs(t, err, license.ErrConflict)

	got, err := s.FindByKey(ctx, "ABCD-2222")
	require.NoError(t, err)
	assert.Equal(t, license.TierBasic, got.Tier, "conflicting insert must not overwrite")
}

func testUpdateUnconditional(t *testing.T, s license.Store) {
	ctx := context.Background()
	lic := NewLicense("ABCD-3333", license.TierBasic)
	require.NoError(t, s.InsertIfAbsent(ctx, lic))

	tier := license.TierStandard
	prov := lic.Provenance
	prov.SourceOrderID = "order-new"
	prov.Metadata = nil
	updatedAt := lic.UpdatedAt.Add(time.Minute)

	require.NoError(t, s.UpdateUnconditional(ctx, lic.Key, license.Mutation{
		Tier:       &tier,
		Provenance: &prov,
		UpdatedAt:  updatedAt,
	}))

	got, err := s.FindByKey(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, license.TierStandard, got.Tier)
	assert.Equal(t, "order-new", got.Provenance.SourceOrderID)
	assert.Empty(t, got.Provenance.Metadata)
	assert.True(t, updatedAt.Equal(got.UpdatedAt))
	assert.True(t, lic.CreatedAt.Equal(got.CreatedAt), "created_at is immutable")
	assert.False(t, got.Claimed())
}

func testUpdateMissing(t *testing.T, s license.Store) {
	ctx := context.Background()
	tier := license.TierPremium

	err := s.UpdateUnconditional(ctx, "MISSING-1", license.Mutation{Tier: &tier, UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, license.ErrNotFound)

	err = s.UpdateConditional(ctx, "MISSING-1", license.Mutation{
		Claim: &license.Claim{Owner: "u1", ActivatedAt: time.Now()},
	}, license.Predicate{Unclaimed: true})
	assert.ErrorIs(t, err, license.ErrNotFound)
}

func testConditionalClaim(t *testing.T, s license.Store) {
	ctx := context.Background()
	lic := NewLicense("ABCD-4444", license.TierPremium)
	require.NoError(t, s.InsertIfAbsent(ctx, lic))

	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	claim := func(owner string) error {
		return s.UpdateConditional(ctx, lic.Key, license.Mutation{
			Claim:     &license.Claim{Owner: owner, ActivatedAt: at},
			UpdatedAt: at,
		}, license.Predicate{Unclaimed: true})
	}

	require.NoError(t, claim("user-1"))
	assert.ErrorIs(t, claim("user-2"), license.ErrConditionFailed)

	got, err := s.FindByKey(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Owner)
	require.NotNil(t, got.ActivatedAt)
	assert.True(t, at.Equal(*got.ActivatedAt))
	assert.Equal(t, license.TierPremium, got.Tier)

	// Provenance updates leave the claim alone.
	tier := license.TierBasic
	require.NoError(t, s.UpdateUnconditional(ctx, lic.Key, license.Mutation{Tier: &tier, UpdatedAt: at.Add(time.Hour)}))
	got, err = s.FindByKey(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Owner)
	assert.NotNil(t, got.ActivatedAt)
}

func testFindAllByOwner(t *testing.T, s license.Store) {
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	for i, tier := range []license.Tier{license.TierBasic, license.TierPremium, license.TierStandard} {
		lic := NewLicense(fmt.Sprintf("OWN-%d", i), tier)
		require.NoError(t, s.InsertIfAbsent(ctx, lic))
	}
	for _, key := range []string{"OWN-0", "OWN-1"} {
		require.NoError(t, s.UpdateConditional(ctx, key, license.Mutation{
			Claim: &license.Claim{Owner: "owner-a", ActivatedAt: at},
		}, license.Predicate{Unclaimed: true}))
	}

	got, err := s.FindAllByOwner(ctx, "owner-a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	keys := []string{got[0].Key, got[1].Key}
	assert.ElementsMatch(t, []string{"OWN-0", "OWN-1"}, keys)

	none, err := s.FindAllByOwner(ctx, "owner-b")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testConcurrentClaims(t *testing.T, s license.Store) {
	ctx := context.Background()
	lic := NewLicense("RACE-0001", license.TierStandard)
	require.NoError(t, s.InsertIfAbsent(ctx, lic))

	const contenders = 16
	var winners, losers atomic.Int32
	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		owner := fmt.Sprintf("user-%d", i)
		g.Go(func() error {
			err := s.UpdateConditional(ctx, lic.Key, license.Mutation{
				Claim: &license.Claim{Owner: owner, ActivatedAt: time.Now().UTC()},
			}, license.Predicate{Unclaimed: true})
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, license.ErrConditionFailed):
				losers.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(contenders-1), losers.Load())
}

func testConcurrentInserts(t *testing.T, s license.Store) {
	ctx := context.Background()

	const writers = 8
	var created, conflicts atomic.Int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			err := s.InsertIfAbsent(ctx, NewLicense("RACE-0002", license.TierBasic))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, license.ErrConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())
}

func assertSameLicense(t *testing.T, want, got *license.License) {
	t.Helper()
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Tier, got.Tier)
	assert.Equal(t, want.Owner, got.Owner)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %v != %v", want.UpdatedAt, got.UpdatedAt)
	assert.True(t, want.Provenance.Equal(got.Provenance), "provenance %+v != %+v", want.Provenance, got.Provenance)
}
