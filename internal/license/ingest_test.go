package license_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/license"
	"licensed/internal/store/memory"
)

var epoch = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func premiumNotification(key string) license.Notification {
	return license.Notification{
		"license_key":       key,
		"product_permalink": "6_multihotplayer",
		"product_name":      "MultiHotPlayer 6 Screen",
		"price":             "1.99",
		"currency":          "usd",
		"email":             "buyer@example.com",
		"sale_id":           "sale-001",
		"sale_timestamp":    "1710061200",
		"purchaser_id":      "p-42",
		"variants":          "Lifetime",
	}
}

func TestIngest_CreatesLicense(t *testing.T) {
	store := newCountingStore()
	ing := license.NewIngestor(store, nil, testLogger, license.WithIngestClock(fixedClock(epoch)))

	result, err := ing.Ingest(context.Background(), premiumNotification(" ABCD-1234 "))
	require.NoError(t, err)

	assert.Equal(t, "ABCD-1234", result.Key)
	assert.Equal(t, license.TierPremium, result.Tier)
	assert.Equal(t, license.OperationCreated, result.Operation)
	assert.Equal(t, "sale-001", result.SourceOrderID)
	assert.False(t, result.SyntheticOrderID)
	assert.Equal(t, int32(1), store.writes())

	lic, err := store.FindByKey(context.Background(), "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, license.TierPremium, lic.Tier)
	assert.False(t, lic.Claimed())
	assert.Nil(t, lic.ActivatedAt)
	assert.Equal(t, "buyer@example.com", lic.Provenance.PurchaseEmail)
	assert.Equal(t, "6_multihotplayer", lic.Provenance.Product)
	assert.Equal(t, "p-42", lic.Provenance.PurchaserID)
	assert.Equal(t, "USD", lic.Provenance.Currency)
	require.NotNil(t, lic.Provenance.PriceCents)
	assert.Equal(t, int64(199), *lic.Provenance.PriceCents)
	require.NotNil(t, lic.Provenance.PurchasedAt)
	assert.Equal(t, int64(1710061200), lic.Provenance.PurchasedAt.Unix())
	assert.Equal(t, "Lifetime", lic.Provenance.Metadata["variants"])
	assert.NotContains(t, lic.Provenance.Metadata, "license_key")
	assert.NotContains(t, lic.Provenance.Metadata, "sale_timestamp")
	assert.Len(t, lic.Provenance.Metadata, 1)
}

func TestIngest_MissingKey(t *testing.T) {
	store := newCountingStore()
	ing := license.NewIngestor(store, nil, testLogger)

	for _, key := range []string{"", "   "} {
		n := premiumNotification(key)
		_, err := ing.Ingest(context.Background(), n)
		assert.ErrorIs(t, err, licenseErrors.ErrMissingLicenseKey)
	}

	_, err := ing.Ingest(context.Background(), license.Notification{"product_name": "6 Screen"})
	assert.ErrorIs(t, err, licenseErrors.ErrMissingLicenseKey)
	assert.Equal(t, int32(0), store.writes())
}

func TestIngest_KeyLength(t *testing.T) {
	store := newCountingStore()
	ing := license.NewIngestor(store, nil, testLogger)

	_, err := ing.Ingest(context.Background(), premiumNotification(strings.Repeat("K", license.MaxKeyLength+1)))
	assert.ErrorIs(t, err, licenseErrors.ErrInvalidInput)
	assert.Equal(t, int32(0), store.writes())

	// short keys are opaque and accepted like any other
	res, err := ing.Ingest(context.Background(), premiumNotification("AB"))
	require.NoError(t, err)
	assert.Equal(t, "AB", res.Key)
	assert.Equal(t, license.OperationCreated, res.Operation)
}

func TestIngest_SyntheticOrderID(t *testing.T) {
	store := memory.New()
	ing := license.NewIngestor(store, nil, testLogger, license.WithIngestClock(fixedClock(epoch)))

	result, err := ing.Ingest(context.Background(), license.Notification{"license_key": "KEY-NO-ORDER"})
	require.NoError(t, err)

	assert.True(t, result.SyntheticOrderID)
	assert.True(t, strings.HasPrefix(result.SourceOrderID, license.SyntheticOrderPrefix))
	assert.Equal(t, license.TierBasic, result.Tier)

	lic, err := store.FindByKey(context.Background(), "KEY-NO-ORDER")
	require.NoError(t, err)
	assert.Equal(t, result.SourceOrderID, lic.Provenance.SourceOrderID)
	assert.Equal(t, "2_multihotplayer", lic.Provenance.Product, "product falls back to the tier slug")
}

func TestIngest_OrderIDFallsBackToOrderField(t *testing.T) {
	ing := license.NewIngestor(memory.New(), nil, testLogger)

	result, err := ing.Ingest(context.Background(), license.Notification{
		"license_key": "KEY-ORDER",
		"order_id":    "ord-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-9", result.SourceOrderID)
}

func TestIngest_ReplayIsIdempotent(t *testing.T) {
	store := memory.New()
	ing := license.NewIngestor(store, nil, testLogger, license.WithIngestClock(fixedClock(epoch)))
	ctx := context.Background()

	first, err := ing.Ingest(ctx, premiumNotification("ABCD-REPLAY"))
	require.NoError(t, err)
	before, err := store.FindByKey(ctx, "ABCD-REPLAY")
	require.NoError(t, err)

	second, err := ing.Ingest(ctx, premiumNotification("ABCD-REPLAY"))
	require.NoError(t, err)
	after, err := store.FindByKey(ctx, "ABCD-REPLAY")
	require.NoError(t, err)

	assert.Equal(t, license.OperationCreated, first.Operation)
	assert.Equal(t, license.OperationUpdated, second.Operation)
	assert.True(t, second.Replay)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, before, after, "replaying the same notification leaves the row unchanged")
	assert.Equal(t, 1, store.Len())
}

func TestIngest_ReplayKeepsTier(t *testing.T) {
	store := memory.New()
	ing := license.NewIngestor(store, nil, testLogger)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, premiumNotification("ABCD-SAMEORDER"))
	require.NoError(t, err)

	// Same order, different signals: the stored tier wins.
	n := license.Notification{"license_key": "ABCD-SAMEORDER", "sale_id": "sale-001", "product_name": "4 Screen"}
	result, err := ing.Ingest(ctx, n)
	require.NoError(t, err)

	assert.True(t, result.Replay)
	assert.Equal(t, license.TierPremium, result.Tier)
	lic, err := store.FindByKey(ctx, "ABCD-SAMEORDER")
	require.NoError(t, err)
	assert.Equal(t, license.TierPremium, lic.Tier)
}

func TestIngest_ReclassifiesOnNewOrder(t *testing.T) {
	store := memory.New()
	ing := license.NewIngestor(store, nil, testLogger, license.WithIngestClock(fixedClock(epoch)))
	ctx := context.Background()

	_, err := ing.Ingest(ctx, license.Notification{"license_key": "ABCD-UPGRADE", "sale_id": "s1"})
	require.NoError(t, err)

	result, err := ing.Ingest(ctx, license.Notification{
		"license_key":  "ABCD-UPGRADE",
		"sale_id":      "s2",
		"product_name": "Full Version",
	})
	require.NoError(t, err)

	assert.Equal(t, license.OperationUpdated, result.Operation)
	assert.False(t, result.Replay)
	assert.Equal(t, license.TierPremium, result.Tier)

	lic, err := store.FindByKey(ctx, "ABCD-UPGRADE")
	require.NoError(t, err)
	assert.Equal(t, license.TierPremium, lic.Tier)
	assert.Equal(t, "s2", lic.Provenance.SourceOrderID)
	assert.True(t, lic.UpdatedAt.After(lic.CreatedAt))
}

func TestIngest_NeverTouchesOwner(t *testing.T) {
	store := memory.New()
	seed(store, "ABCD-OWNED", license.TierStandard, "user-1")
	ing := license.NewIngestor(store, nil, testLogger)
	ctx := context.Background()

	result, err := ing.Ingest(ctx, premiumNotification("ABCD-OWNED"))
	require.NoError(t, err)
	assert.Equal(t, license.OperationUpdated, result.Operation)

	lic, err := store.FindByKey(ctx, "ABCD-OWNED")
	require.NoError(t, err)
	assert.Equal(t, "user-1", lic.Owner)
	require.NotNil(t, lic.ActivatedAt)
	assert.Equal(t, license.TierPremium, lic.Tier, "tier follows the latest classification by default")
}

func TestIngest_FrozenTierOnActivation(t *testing.T) {
	store := memory.New()
	seed(store, "ABCD-FROZEN", license.TierStandard, "user-1")
	seed(store, "ABCD-FREE", license.TierStandard, "")
	ing := license.NewIngestor(store, nil, testLogger, license.WithFrozenTierOnActivation(true))
	ctx := context.Background()

	result, err := ing.Ingest(ctx, premiumNotification("ABCD-FROZEN"))
	require.NoError(t, err)
	assert.Equal(t, license.TierStandard, result.Tier)

	result, err = ing.Ingest(ctx, premiumNotification("ABCD-FREE"))
	require.NoError(t, err)
	assert.Equal(t, license.TierPremium, result.Tier, "unclaimed licenses are still reclassified")
}

func TestIngest_InsertRaceBecomesUpdate(t *testing.T) {
	base := memory.New()
	store := &interleavingStore{Store: base, op: "insert"}
	store.hook = func() {
		seed(base, "ABCD-RACE", license.TierBasic, "")
	}
	ing := license.NewIngestor(store, nil, testLogger)

	result, err := ing.Ingest(context.Background(), premiumNotification("ABCD-RACE"))
	require.NoError(t, err)

	assert.Equal(t, license.OperationUpdated, result.Operation)
	assert.Equal(t, license.TierPremium, result.Tier)
	lic, err := base.FindByKey(context.Background(), "ABCD-RACE")
	require.NoError(t, err)
	assert.Equal(t, license.TierPremium, lic.Tier)
	assert.Equal(t, "sale-001", lic.Provenance.SourceOrderID)
}

func TestIngest_ConcurrentDeliveriesCreateOneRow(t *testing.T) {
	store := newCountingStore()
	ing := license.NewIngestor(store, nil, testLogger)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := ing.Ingest(context.Background(), premiumNotification("ABCD-STORM"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), store.inserts.Load())
	assert.Equal(t, int32(9), store.updates.Load())
}

func TestIngest_StoreUnavailable(t *testing.T) {
	flaky := newFlakyStore(memory.New(), 100)
	store := license.NewRetryingStore(flaky, fastRetry, testLogger)
	ing := license.NewIngestor(store, nil, testLogger)

	_, err := ing.Ingest(context.Background(), premiumNotification("ABCD-DOWN"))
	assert.ErrorIs(t, err, licenseErrors.ErrStoreUnavailable)
	assert.Equal(t, int32(fastRetry.MaxAttempts), flaky.calls.Load())
}

func TestIngest_TransientFailureRecovers(t *testing.T) {
	flaky := newFlakyStore(memory.New(), 2)
	store := license.NewRetryingStore(flaky, fastRetry, testLogger)
	ing := license.NewIngestor(store, nil, testLogger)

	result, err := ing.Ingest(context.Background(), premiumNotification("ABCD-BLIP"))
	require.NoError(t, err)
	assert.Equal(t, license.OperationCreated, result.Operation)
}

func TestNotification_Get(t *testing.T) {
	n := license.Notification{"sale_id": "  ", "order_id": " o-1 "}
	assert.Equal(t, "o-1", n.Get("sale_id", "order_id"))
	assert.Equal(t, "", n.Get("missing"))
	assert.ElementsMatch(t, []string{"sale_id", "order_id"}, n.Fields())
}

func ExampleIngestor_Ingest() {
	ing := license.NewIngestor(memory.New(), nil, testLogger)

	result, _ := ing.Ingest(context.Background(), license.Notification{
		"license_key":  "ABCD-1234-EXAMPLE",
		"product_name": "MultiHotPlayer 4 Screen",
		"sale_id":      "sale-1",
	})
	fmt.Println(result.Operation, result.Tier, result.Tier.Capacity())
	// Output: created standard 4
}
