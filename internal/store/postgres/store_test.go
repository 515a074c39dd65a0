package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensed/internal/infrastructure"
	"licensed/internal/license"
	"licensed/internal/store/storetest"
)

func TestModelRoundTrip(t *testing.T) {
	lic := storetest.NewLicense("MODEL-01", license.TierPremium)
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
	lic.Owner = "user-1"
	lic.ActivatedAt = &at

	m, err := toModel(lic)
	require.NoError(t, err)
	assert.Equal(t, int16(3), m.Tier)
	require.NotNil(t, m.Owner)
	assert.Equal(t, "user-1", *m.Owner)
	assert.Equal(t, time.UTC, m.ActivatedAt.Location())
	assert.JSONEq(t, `{"variants":"Lifetime"}`, m.Metadata)

	back, err := m.toLicense()
	require.NoError(t, err)
	assert.Equal(t, lic.Key, back.Key)
	assert.Equal(t, lic.Tier, back.Tier)
	assert.Equal(t, "user-1", back.Owner)
	assert.True(t, at.Equal(*back.ActivatedAt))
	assert.True(t, lic.Provenance.Equal(back.Provenance))
}

func TestModel_UnclaimedHasNullOwner(t *testing.T) {
	lic := storetest.NewLicense("MODEL-02", license.TierBasic)
	lic.Provenance.Metadata = nil

	m, err := toModel(lic)
	require.NoError(t, err)
	assert.Nil(t, m.Owner)
	assert.Nil(t, m.ActivatedAt)
	assert.Equal(t, "{}", m.Metadata)

	back, err := m.toLicense()
	require.NoError(t, err)
	assert.False(t, back.Claimed())
	assert.Nil(t, back.Provenance.Metadata)
}

func TestModel_CorruptMetadata(t *testing.T) {
	_, err := licenseModel{LicenseKey: "BAD-0001", Tier: 1, Metadata: "[1,2"}.toLicense()
	assert.Error(t, err)
}

func TestMutationColumns(t *testing.T) {
	tier := license.TierStandard
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	cols, err := mutationColumns(license.Mutation{
		Tier:      &tier,
		Claim:     &license.Claim{Owner: "user-1", ActivatedAt: at},
		UpdatedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, int16(2), cols["tier"])
	assert.Equal(t, "user-1", cols["owner"])
	assert.Equal(t, at, cols["activated_at"])
	assert.Equal(t, at, cols["updated_at"])
	assert.NotContains(t, cols, "source_order_id")

	prov := storetest.NewLicense("COLS-01", license.TierBasic).Provenance
	cols, err = mutationColumns(license.Mutation{Provenance: &prov})
	require.NoError(t, err)
	assert.Equal(t, "order-COLS-01", cols["source_order_id"])
	assert.NotContains(t, cols, "owner")
	assert.NotContains(t, cols, "updated_at")
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_licenses.up.sql")
	assert.Contains(t, names, "000001_create_licenses.down.sql")
}

// TestStoreContract runs against a real database when
// LICENSED_TEST_DATABASE_URL is set.
func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("LICENSED_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LICENSED_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	logger := infrastructure.NewDiscardLogger()
	db, err := Connect(ctx, dsn, Options{MaxConns: 20}, logger)
	require.NoError(t, err)
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, func(t *testing.T) license.Store {
		require.NoError(t, MigrateDown(ctx, db, logger))
		require.NoError(t, MigrateUp(ctx, db, logger))

		version, dirty, err := SchemaVersion(db, logger)
		require.NoError(t, err)
		require.False(t, dirty)
		require.Equal(t, uint(1), version)
		return s
	})
}
